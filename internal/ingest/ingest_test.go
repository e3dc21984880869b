package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wakamiya-lab/grantbot/internal/index"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

func TestChunkText_WindowsWithOverlap(t *testing.T) {
	chunks := ChunkText("abcdefgh", ChunkConfig{Size: 5, Overlap: 2})

	assert.Equal(t, []string{"abcde", "defgh"}, chunks)
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks := ChunkText("短いテキスト", ChunkConfig{Size: 800, Overlap: 120})

	assert.Equal(t, []string{"短いテキスト"}, chunks)
}

func TestChunkText_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("あ", 10)
	chunks := ChunkText(text, ChunkConfig{Size: 6, Overlap: 0})

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("あ", 6), chunks[0])
	assert.Equal(t, strings.Repeat("あ", 4), chunks[1])
}

func TestChunkText_Empty(t *testing.T) {
	assert.Empty(t, ChunkText("", DefaultChunkConfig()))
	assert.Empty(t, ChunkText("   \n  ", DefaultChunkConfig()))
}

func TestIsAllowedExt(t *testing.T) {
	assert.True(t, IsAllowedExt("募集要項.PDF"))
	assert.True(t, IsAllowedExt("notes.md"))
	assert.True(t, IsAllowedExt("readme.markdown"))
	assert.True(t, IsAllowedExt("plain.txt"))
	assert.False(t, IsAllowedExt("archive.zip"))
	assert.False(t, IsAllowedExt("noext"))
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	callArgs := m.Called(ctx, name, args)
	if callArgs.Get(0) == nil {
		return nil, callArgs.Error(1)
	}
	return callArgs.Get(0).([]byte), callArgs.Error(1)
}

func TestReader_ReadPages_PDFSplitsOnFormFeed(t *testing.T) {
	runner := new(MockRunner)
	reader := NewReader(runner)

	ctx := context.Background()
	runner.On("Run", ctx, "pdftotext", []string{"-enc", "UTF-8", "doc.pdf", "-"}).
		Return([]byte("ページ1\f ページ2 \f\f"), nil)

	pages, err := reader.ReadPages(ctx, "doc.pdf")

	require.NoError(t, err)
	// Trailing empty pages from the final form feeds are dropped.
	require.Len(t, pages, 2)
	assert.Equal(t, "ページ1", pages[0])
	assert.Equal(t, " ページ2 ", pages[1])
	runner.AssertExpectations(t)
}

func TestReader_ReadPages_TextFileIsOnePage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo"), 0o644))

	reader := NewReader(nil)
	pages, err := reader.ReadPages(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, []string{"one\ntwo"}, pages)
}

func TestReader_ReadPreview_CapsRunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("あ", 50)), 0o644))

	reader := NewReader(nil)
	preview, err := reader.ReadPreview(context.Background(), path, 10)

	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("あ", 10), preview)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, openai.CallMeta, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, openai.CallMeta{}, args.Error(1)
	}
	return args.Get(0).([][]float32), openai.CallMeta{}, args.Error(1)
}

type MockRebuilder struct {
	mock.Mock
}

func (m *MockRebuilder) Rebuild(vectors [][]float32, metas []index.ChunkMeta) error {
	args := m.Called(vectors, metas)
	return args.Error(0)
}

func TestService_IngestDir_ChunksEmbedsAndRebuilds(t *testing.T) {
	docDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "b.txt"), []byte("本文テキスト"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "a.md"), []byte("# 見出し"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "ignored.bin"), []byte("x"), 0o644))

	embedder := new(MockEmbedder)
	rebuilder := new(MockRebuilder)
	svc := NewService(embedder, rebuilder, NewReader(nil), docDir)

	ctx := context.Background()
	vectors := [][]float32{{0.1}, {0.2}}
	embedder.On("EmbedTexts", ctx, []string{"# 見出し", "本文テキスト"}).Return(vectors, nil)
	rebuilder.On("Rebuild", vectors, mock.MatchedBy(func(metas []index.ChunkMeta) bool {
		return len(metas) == 2 &&
			metas[0].Doc == "a.md" && metas[0].ChunkID == "0" && metas[0].Page == nil &&
			metas[1].Doc == "b.txt" && metas[1].ChunkID == "0"
	})).Return(nil)

	docs, err := svc.IngestDir(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	embedder.AssertExpectations(t)
	rebuilder.AssertExpectations(t)
}

func TestService_IngestDir_PDFMetasCarryPages(t *testing.T) {
	docDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "guide.pdf"), []byte("%PDF"), 0o644))

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "pdftotext", mock.Anything).
		Return([]byte("一枚目\f二枚目"), nil)

	embedder := new(MockEmbedder)
	rebuilder := new(MockRebuilder)
	svc := NewService(embedder, rebuilder, NewReader(runner), docDir)

	ctx := context.Background()
	embedder.On("EmbedTexts", ctx, []string{"一枚目", "二枚目"}).
		Return([][]float32{{0.1}, {0.2}}, nil)
	rebuilder.On("Rebuild", mock.Anything, mock.MatchedBy(func(metas []index.ChunkMeta) bool {
		return len(metas) == 2 &&
			metas[0].ChunkID == "1-0" && metas[0].Page != nil && *metas[0].Page == 1 &&
			metas[1].ChunkID == "2-0" && *metas[1].Page == 2 &&
			metas[0].TotalPages != nil && *metas[0].TotalPages == 2
	})).Return(nil)

	docs, err := svc.IngestDir(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, docs)
}

func TestService_IngestDir_EmptyDirIsNotAnError(t *testing.T) {
	embedder := new(MockEmbedder)
	rebuilder := new(MockRebuilder)
	svc := NewService(embedder, rebuilder, NewReader(nil), t.TempDir())

	docs, err := svc.IngestDir(context.Background())

	require.NoError(t, err)
	assert.Zero(t, docs)
	embedder.AssertNotCalled(t, "EmbedTexts", mock.Anything, mock.Anything)
}

func TestService_IngestDir_EmbeddingCountMismatch(t *testing.T) {
	docDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "a.txt"), []byte("text"), 0o644))

	embedder := new(MockEmbedder)
	rebuilder := new(MockRebuilder)
	svc := NewService(embedder, rebuilder, NewReader(nil), docDir)

	embedder.On("EmbedTexts", mock.Anything, mock.Anything).
		Return([][]float32{{0.1}, {0.2}}, nil)

	_, err := svc.IngestDir(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
	rebuilder.AssertNotCalled(t, "Rebuild", mock.Anything, mock.Anything)
}
