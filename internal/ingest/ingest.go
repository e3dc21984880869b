// Package ingest scans the document directory, chunks file text, embeds the
// chunks, and rebuilds the vector index wholesale. There is no incremental
// update: each ingestion replaces the full index/metadata pair.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wakamiya-lab/grantbot/internal/index"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

// ChunkConfig controls the fixed-size rune chunker.
type ChunkConfig struct {
	Size    int
	Overlap int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: 800, Overlap: 120}
}

// ChunkText slices text into fixed-length rune windows with overlap.
func ChunkText(text string, cfg ChunkConfig) []string {
	if cfg.Size <= 0 {
		cfg = DefaultChunkConfig()
	}
	step := cfg.Size - cfg.Overlap
	if step <= 0 {
		step = cfg.Size
	}

	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[i:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// Embedder is the embedding gateway used for chunk vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, openai.CallMeta, error)
}

// IndexRebuilder replaces the persisted index pair.
type IndexRebuilder interface {
	Rebuild(vectors [][]float32, metas []index.ChunkMeta) error
}

// Service ties directory scanning, chunking, and embedding to the store.
type Service struct {
	embedder Embedder
	store    IndexRebuilder
	reader   *Reader
	docDir   string
	chunkCfg ChunkConfig
}

func NewService(embedder Embedder, store IndexRebuilder, reader *Reader, docDir string) *Service {
	if reader == nil {
		reader = NewReader(nil)
	}
	return &Service{
		embedder: embedder,
		store:    store,
		reader:   reader,
		docDir:   docDir,
		chunkCfg: DefaultChunkConfig(),
	}
}

// Reader exposes the underlying file reader for preview use.
func (s *Service) Reader() *Reader {
	return s.reader
}

// IngestDir scans the document directory, chunks and embeds every allowed
// file, and rebuilds the index. Returns the number of distinct documents
// indexed; zero with no error when the directory holds nothing ingestable.
func (s *Service) IngestDir(ctx context.Context) (int, error) {
	if err := os.MkdirAll(s.docDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create document dir: %w", err)
	}

	entries, err := os.ReadDir(s.docDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read document dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsAllowedExt(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var texts []string
	var metas []index.ChunkMeta
	docs := map[string]struct{}{}

	for _, name := range names {
		path := filepath.Join(s.docDir, name)
		pages, err := s.reader.ReadPages(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", name, err)
		}

		paginated := strings.ToLower(filepath.Ext(name)) == ".pdf"
		totalPages := len(pages)

		for pageIdx, pageText := range pages {
			for j, chunk := range ChunkText(pageText, s.chunkCfg) {
				meta := index.ChunkMeta{Doc: name, Path: filepath.ToSlash(path)}
				if paginated {
					pageNo := pageIdx + 1
					total := totalPages
					meta.Page = &pageNo
					meta.TotalPages = &total
					meta.ChunkID = fmt.Sprintf("%d-%d", pageNo, j)
				} else {
					meta.ChunkID = fmt.Sprintf("%d", j)
				}
				texts = append(texts, chunk)
				metas = append(metas, meta)
				docs[name] = struct{}{}
			}
		}
	}

	if len(texts) == 0 {
		return 0, nil
	}

	vectors, _, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(vectors), len(texts))
	}

	if err := s.store.Rebuild(vectors, metas); err != nil {
		return 0, err
	}
	return len(docs), nil
}
