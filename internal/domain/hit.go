package domain

// DocHit is one nearest-neighbour match from the local vector index.
// Scores are inner products of L2-normalized vectors, bounded in [-1, 1].
type DocHit struct {
	Doc     string  `json:"doc"`
	Path    string  `json:"path"`
	ChunkID string  `json:"chunk_id"`
	Page    *int    `json:"page,omitempty"`
	Score   float64 `json:"score"`
}

// WebHit is one result from the web search connector. Content holds the
// fetched page text when available; Snippet is the search-engine summary.
type WebHit struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Rank    int      `json:"rank"`
	Score   *float64 `json:"score,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Source  string   `json:"source,omitempty"`
	Date    string   `json:"date,omitempty"`
}

// Source kinds
const (
	SourceKindDoc = "doc"
	SourceKindWeb = "web"
)

// Source is the normalized citation record exposed to callers. It is a
// projection over DocHit and WebHit; kind-specific fields stay empty on the
// other variant.
type Source struct {
	Title string   `json:"title"`
	Kind  string   `json:"kind"`
	Score *float64 `json:"score"`
	Page  *int     `json:"page,omitempty"`
	Path  string   `json:"path,omitempty"`
	URL   string   `json:"url,omitempty"`
}

// SourceFromDocHit projects a doc hit into a citation record.
func SourceFromDocHit(h DocHit) Source {
	title := h.Doc
	if title == "" {
		title = "document"
	}
	score := h.Score
	return Source{
		Title: title,
		Kind:  SourceKindDoc,
		Score: &score,
		Page:  h.Page,
		Path:  h.Path,
	}
}

// SourceFromWebHit projects a web hit into a citation record.
func SourceFromWebHit(h WebHit) Source {
	title := h.Title
	if title == "" {
		title = h.URL
	}
	return Source{
		Title: title,
		Kind:  SourceKindWeb,
		Score: h.Score,
		URL:   h.URL,
	}
}
