package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/wakamiya-lab/grantbot/internal/api"
	"github.com/wakamiya-lab/grantbot/internal/api/middleware"
	"github.com/wakamiya-lab/grantbot/internal/ingest"
)

// DocumentArchiver mirrors uploaded documents to external object storage.
type DocumentArchiver interface {
	ArchiveDocument(ctx context.Context, name string, data []byte) error
}

type UploadHandler struct {
	docDir   string
	archiver DocumentArchiver
	log      *zap.Logger
}

// NewUploadHandler builds the upload handler. A nil archiver disables
// archiving; uploads still land in the document directory.
func NewUploadHandler(docDir string, archiver DocumentArchiver, log *zap.Logger) *UploadHandler {
	return &UploadHandler{docDir: docDir, archiver: archiver, log: log}
}

// Upload stores multipart files into the document directory. Files with
// unsupported extensions are reported back as skipped. Uploading does not
// touch the index; callers re-ingest afterwards.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetRequestID(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		api.Fail(w, http.StatusBadRequest, traceID, "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		api.Fail(w, http.StatusBadRequest, traceID, "no files field in form")
		return
	}

	if err := os.MkdirAll(h.docDir, 0o755); err != nil {
		api.Fail(w, http.StatusInternalServerError, traceID, "failed to prepare document dir")
		return
	}

	saved := []string{}
	skipped := []string{}
	for _, fh := range files {
		name := SafeFilename(fh.Filename)
		if !ingest.IsAllowedExt(name) {
			skipped = append(skipped, fh.Filename)
			continue
		}

		src, err := fh.Open()
		if err != nil {
			api.Fail(w, http.StatusBadRequest, traceID, fmt.Sprintf("failed to read %s", fh.Filename))
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			api.Fail(w, http.StatusBadRequest, traceID, fmt.Sprintf("failed to read %s", fh.Filename))
			return
		}

		name = uniquify(h.docDir, name)
		if err := os.WriteFile(filepath.Join(h.docDir, name), data, 0o644); err != nil {
			api.Fail(w, http.StatusInternalServerError, traceID, fmt.Sprintf("failed to save %s", name))
			return
		}
		saved = append(saved, name)

		if h.archiver != nil {
			if err := h.archiver.ArchiveDocument(r.Context(), name, data); err != nil {
				// Archiving is best-effort; the local copy is authoritative.
				h.log.Warn("upload.archive_failed",
					zap.String("file", name), zap.Error(err))
			}
		}
	}

	api.OK(w, traceID, map[string]any{"saved": saved, "skipped": skipped})
}

// SafeFilename normalizes an uploaded filename to NFKC, strips any path
// components, and replaces characters unsafe on common filesystems. Non-ASCII
// letters, Japanese included, pass through untouched.
func SafeFilename(name string) string {
	name = norm.NFKC.String(name)
	name = filepath.Base(filepath.ToSlash(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`\/:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), " .")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

// uniquify appends a numeric suffix until the name is free in dir.
func uniquify(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}
