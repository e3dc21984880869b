package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/index"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListFiles() ([]index.FileSummary, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]index.FileSummary), args.Error(1)
}

func (m *MockStore) Reset() error {
	return m.Called().Error(0)
}

type MockRemover struct {
	mock.Mock
}

func (m *MockRemover) DeleteDocument(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) IngestDir(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newFilesHandler(store *MockStore, docDir string, remover DocumentRemover) *FilesHandler {
	return NewFilesHandler(store, store, docDir, remover, zap.NewNop())
}

func deleteFileRequest(name string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/api/files/"+name, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", name)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestFilesHandler_List(t *testing.T) {
	store := new(MockStore)
	handler := newFilesHandler(store, t.TempDir(), nil)

	pages := 3
	store.On("ListFiles").Return([]index.FileSummary{
		{Path: "data/docs/要項.pdf", Name: "要項.pdf", Chunks: 6, Pages: &pages},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Len(t, payload["files"], 1)
	file := payload["files"].([]any)[0].(map[string]any)
	assert.Equal(t, "要項.pdf", file["name"])
	assert.Equal(t, float64(6), file["chunks"])
}

func TestFilesHandler_List_NoIndexMapsTo404(t *testing.T) {
	store := new(MockStore)
	handler := newFilesHandler(store, t.TempDir(), nil)

	store.On("ListFiles").Return(nil, domain.ErrIndexNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFilesHandler_Reset(t *testing.T) {
	store := new(MockStore)
	handler := newFilesHandler(store, t.TempDir(), nil)

	store.On("Reset").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	rec := httptest.NewRecorder()
	handler.Reset(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, true, payload["reset"])
	store.AssertExpectations(t)
}

func TestFilesHandler_Delete_RemovesLocalAndArchivedCopy(t *testing.T) {
	docDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "memo.txt"), []byte("本文"), 0o644))

	remover := new(MockRemover)
	remover.On("DeleteDocument", mock.Anything, "memo.txt").Return(nil)

	handler := newFilesHandler(new(MockStore), docDir, remover)

	rec := httptest.NewRecorder()
	handler.Delete(rec, deleteFileRequest("memo.txt"))

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "memo.txt", payload["deleted"])
	assert.NoFileExists(t, filepath.Join(docDir, "memo.txt"))
	remover.AssertExpectations(t)
}

func TestFilesHandler_Delete_MissingFileIs404(t *testing.T) {
	handler := newFilesHandler(new(MockStore), t.TempDir(), nil)

	rec := httptest.NewRecorder()
	handler.Delete(rec, deleteFileRequest("ghost.txt"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFilesHandler_Delete_StripsPathComponents(t *testing.T) {
	docDir := t.TempDir()
	outside := filepath.Join(filepath.Dir(docDir), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	handler := newFilesHandler(new(MockStore), docDir, nil)

	rec := httptest.NewRecorder()
	handler.Delete(rec, deleteFileRequest("../outside.txt"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.FileExists(t, outside)
}

func TestFilesHandler_Delete_ArchiveFailureIsNotFatal(t *testing.T) {
	docDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "memo.txt"), []byte("本文"), 0o644))

	remover := new(MockRemover)
	remover.On("DeleteDocument", mock.Anything, "memo.txt").
		Return(errors.New("bucket unavailable"))

	handler := newFilesHandler(new(MockStore), docDir, remover)

	rec := httptest.NewRecorder()
	handler.Delete(rec, deleteFileRequest("memo.txt"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestHandler_Ingest(t *testing.T) {
	svc := new(MockIngester)
	handler := NewIngestHandler(svc)

	svc.On("IngestDir", mock.Anything).Return(4, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, float64(4), payload["indexed_docs"])
}

func TestIngestHandler_Ingest_ErrorPropagates(t *testing.T) {
	svc := new(MockIngester)
	handler := NewIngestHandler(svc)

	svc.On("IngestDir", mock.Anything).
		Return(0, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "embedding failed", errors.New("429")))

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
