package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wakamiya-lab/grantbot/internal/api"
	"github.com/wakamiya-lab/grantbot/internal/api/middleware"
	"github.com/wakamiya-lab/grantbot/internal/index"
)

// FileLister reports the files currently represented in the index.
type FileLister interface {
	ListFiles() ([]index.FileSummary, error)
}

// IndexResetter deletes the persisted index pair.
type IndexResetter interface {
	Reset() error
}

// DocumentRemover deletes a document's archived copy in object storage.
type DocumentRemover interface {
	DeleteDocument(ctx context.Context, name string) error
}

type FilesHandler struct {
	store    FileLister
	resetter IndexResetter
	docDir   string
	remover  DocumentRemover
	log      *zap.Logger
}

// NewFilesHandler builds the file management handler. A nil remover disables
// archive cleanup on delete; the local copy is still removed.
func NewFilesHandler(store FileLister, resetter IndexResetter, docDir string, remover DocumentRemover, log *zap.Logger) *FilesHandler {
	return &FilesHandler{store: store, resetter: resetter, docDir: docDir, remover: remover, log: log}
}

// List reports one summary per indexed file.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetRequestID(r.Context())

	files, err := h.store.ListFiles()
	if err != nil {
		api.HandleError(w, traceID, err)
		return
	}

	api.OK(w, traceID, map[string]any{"files": files})
}

// Reset deletes the index. Documents on disk are untouched; the next ingest
// rebuilds from them.
func (h *FilesHandler) Reset(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetRequestID(r.Context())

	if err := h.resetter.Reset(); err != nil {
		api.HandleError(w, traceID, err)
		return
	}

	api.OK(w, traceID, map[string]any{"reset": true})
}

// Delete removes one document from the document directory and, when an
// archive is configured, its archived copy. The index is not touched; callers
// re-ingest to drop the document's chunks.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetRequestID(r.Context())

	name := SafeFilename(chi.URLParam(r, "name"))
	if err := os.Remove(filepath.Join(h.docDir, name)); err != nil {
		if os.IsNotExist(err) {
			api.Fail(w, http.StatusNotFound, traceID, fmt.Sprintf("%s is not in the document dir", name))
			return
		}
		api.Fail(w, http.StatusInternalServerError, traceID, fmt.Sprintf("failed to delete %s", name))
		return
	}

	if h.remover != nil {
		if err := h.remover.DeleteDocument(r.Context(), name); err != nil {
			// The local delete already succeeded; the archive copy is advisory.
			h.log.Warn("files.archive_delete_failed",
				zap.String("file", name), zap.Error(err))
		}
	}

	api.OK(w, traceID, map[string]any{"deleted": name})
}
