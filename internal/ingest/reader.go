package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// allowedExts are the file types ingestion accepts.
var allowedExts = map[string]struct{}{
	".pdf":      {},
	".txt":      {},
	".md":       {},
	".markdown": {},
}

// IsAllowedExt reports whether filename has an ingestable extension.
func IsAllowedExt(filename string) bool {
	_, ok := allowedExts[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Reader extracts text from ingestable files. PDF extraction shells out to
// pdftotext, which separates pages with form feeds.
type Reader struct {
	runner CommandRunner
}

func NewReader(runner CommandRunner) *Reader {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Reader{runner: runner}
}

// ReadPages returns the file's text split into pages. Non-paginated formats
// come back as a single page.
func (r *Reader) ReadPages(ctx context.Context, path string) ([]string, error) {
	if strings.ToLower(filepath.Ext(path)) == ".pdf" {
		return r.readPDFPages(ctx, path)
	}
	text, err := readTextFile(path)
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

// ReadPreview returns up to limit runes of the file's text, for display and
// context assembly.
func (r *Reader) ReadPreview(ctx context.Context, path string, limit int) (string, error) {
	pages, err := r.ReadPages(ctx, path)
	if err != nil {
		return "", err
	}
	text := strings.Join(pages, "\n")
	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]), nil
	}
	return text, nil
}

func (r *Reader) readPDFPages(ctx context.Context, path string) ([]string, error) {
	out, err := r.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed for %s: %w", path, err)
	}
	// pdftotext emits one form feed per page boundary.
	pages := strings.Split(string(out), "\f")
	for len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages, nil
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
