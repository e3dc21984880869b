package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

func testVectors() ([][]float32, []ChunkMeta) {
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.5, 0.5, 0},
	}
	page := 2
	metas := []ChunkMeta{
		{Doc: "a.txt", Path: "data/docs/a.txt", ChunkID: "0"},
		{Doc: "b.pdf", Path: "data/docs/b.pdf", ChunkID: "2-0", Page: &page},
		{Doc: "a.txt", Path: "data/docs/a.txt", ChunkID: "1"},
	}
	return vectors, metas
}

func TestStore_RebuildAndSearch_RoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))

	hits, err := store.Search([]float32{1, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.txt", hits[0].Meta.Doc)
	assert.Equal(t, "0", hits[0].Meta.ChunkID)
	// Identical direction scores ~1.0 after normalization.
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestStore_Search_OrderedDescending(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))

	hits, err := store.Search([]float32{0.6, 0.4, 0}, 3)

	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestStore_Exists_RequiresBothFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	assert.False(t, store.Exists())

	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))
	assert.True(t, store.Exists())

	// A lone file is an invalid state and must read as absent.
	require.NoError(t, os.Remove(filepath.Join(dir, "meta.jsonl")))
	assert.False(t, store.Exists())
}

func TestStore_Search_NoIndex(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Search([]float32{1, 0, 0}, 5)

	assert.Equal(t, domain.ErrIndexNotFound, err)
}

func TestStore_Search_DimensionMismatch(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))

	_, err := store.Search([]float32{1, 0}, 5)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeDimensionMismatch, domainErr.Code)
}

func TestStore_Search_ZeroQueryVector(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))

	hits, err := store.Search([]float32{0, 0, 0}, 3)

	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.InDelta(t, 0.0, h.Score, 1e-9)
	}
}

func TestStore_Rebuild_CountMismatch(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()

	err := store.Rebuild(vectors, metas[:2])

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}

func TestStore_Rebuild_RaggedVectors(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors := [][]float32{{1, 0, 0}, {0, 1}}
	metas := []ChunkMeta{{Doc: "a"}, {Doc: "b"}}

	err := store.Rebuild(vectors, metas)

	assert.Error(t, err)
}

func TestStore_Rebuild_ReplacesWholesale(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))

	require.NoError(t, store.Rebuild(
		[][]float32{{0, 0, 1}},
		[]ChunkMeta{{Doc: "c.md", Path: "data/docs/c.md", ChunkID: "0"}},
	))

	hits, err := store.Search([]float32{0, 0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c.md", hits[0].Meta.Doc)
}

func TestStore_Reset(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))
	require.True(t, store.Exists())

	require.NoError(t, store.Reset())

	assert.False(t, store.Exists())
	// Resetting an absent index is not an error.
	assert.NoError(t, store.Reset())
}

func TestStore_ListFiles(t *testing.T) {
	store := NewStore(t.TempDir())
	vectors, metas := testVectors()
	require.NoError(t, store.Rebuild(vectors, metas))

	files, err := store.ListFiles()

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, 2, files[0].Chunks)
	assert.Equal(t, "b.pdf", files[1].Name)
	require.NotNil(t, files[1].Pages)
	assert.Equal(t, 1, *files[1].Pages)
}

func TestStore_ListFiles_NoIndex(t *testing.T) {
	store := NewStore(t.TempDir())

	files, err := store.ListFiles()

	require.NoError(t, err)
	assert.Empty(t, files)
}
