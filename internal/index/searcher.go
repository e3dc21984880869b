package index

import (
	"context"
	"strings"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

// Embedder turns query text into a vector. Implemented by the OpenAI client.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, openai.CallMeta, error)
}

// Searcher answers text queries against the store: it embeds the query and
// runs the nearest-neighbour search.
type Searcher struct {
	embedder Embedder
	store    *Store
}

func NewSearcher(embedder Embedder, store *Store) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// Exists reports whether the underlying index pair is present.
func (s *Searcher) Exists() bool {
	return s.store.Exists()
}

// Search embeds query and returns the top-k doc hits. Path separators are
// normalized so Windows-built indexes stay addressable.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]domain.DocHit, error) {
	vectors, _, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeExternalService, "embedding service returned no vectors")
	}

	hits, err := s.store.Search(vectors[0], k)
	if err != nil {
		return nil, err
	}

	out := make([]domain.DocHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.DocHit{
			Doc:     h.Meta.Doc,
			Path:    strings.ReplaceAll(h.Meta.Path, `\`, "/"),
			ChunkID: h.Meta.ChunkID,
			Page:    h.Meta.Page,
			Score:   h.Score,
		})
	}
	return out, nil
}
