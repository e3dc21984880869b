package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

const answerPromptFormat = "以下のコンテキストを根拠に質問へ回答してください。" +
	"不足していれば『不明』と記してください。\n\n" +
	"【質問】\n%s\n\n【コンテキスト】\n%s"

// summarize asks the completion service for a grounded answer over the
// assembled context. Snippets are whitespace-normalized and capped before
// prompting.
func (p *Pipeline) summarize(ctx context.Context, st *state, query string, contexts []string) (string, error) {
	if len(contexts) > p.opts.CtxMaxChunks {
		contexts = contexts[:p.opts.CtxMaxChunks]
	}
	normed := make([]string, 0, len(contexts))
	for _, c := range contexts {
		s := truncateRunes(strings.Join(strings.Fields(c), " "), p.opts.CtxMaxChars)
		if s != "" {
			normed = append(normed, s)
		}
	}

	result, err := p.chat.Chat(ctx, openai.ChatRequest{
		System:      p.opts.SystemPrompt,
		User:        fmt.Sprintf(answerPromptFormat, query, strings.Join(normed, "\n---\n")),
		Model:       p.opts.LLMModel,
		Temperature: 0.2,
	})
	st.addTiming("llm_ms", result.Meta.LatencyMS)
	if err != nil {
		return "", err
	}
	st.setUsage(result.Meta.Usage)
	return result.Text, nil
}

// docContextPreview renders short per-hit previews for the trace.
func (p *Pipeline) docContextPreview(ctx context.Context, hits []domain.DocHit) []string {
	out := make([]string, 0, 3)
	for _, h := range topDocHits(hits, 3) {
		name := h.Doc
		if name == "" {
			name = "document"
		}
		page := "-"
		if h.Page != nil {
			page = fmt.Sprintf("%d", *h.Page)
		}
		snippet, _ := p.previews.ReadPreview(ctx, h.Path, 300)
		out = append(out, fmt.Sprintf("[%s p.%s] %s", name, page, truncateRunes(snippet, 200)))
	}
	return out
}

func webContextPreview(hits []domain.WebHit) []string {
	out := make([]string, 0, 3)
	for i, h := range hits {
		if i == 3 {
			break
		}
		title := h.Title
		if title == "" {
			title = h.URL
		}
		if title == "" {
			title = "web"
		}
		out = append(out, fmt.Sprintf("[web %d] %s — %s", i+1, title, truncateRunes(h.Snippet, 200)))
	}
	return out
}

// dedupPreview drops previews sharing the same "[source" key and normalizes
// whitespace, keeping at most limit entries.
func dedupPreview(items []string, limit int) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, limit)
	for _, s := range items {
		key, _, _ := strings.Cut(s, "]")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.Join(strings.Fields(s), " "))
		if len(out) == limit {
			break
		}
	}
	return out
}

// summarizeSources builds the citation list shown to the caller, docs first.
func summarizeSources(docHits []domain.DocHit, webHits []domain.WebHit) []domain.Source {
	sources := make([]domain.Source, 0, len(docHits)+len(webHits))
	for _, h := range docHits {
		sources = append(sources, domain.SourceFromDocHit(h))
	}
	for _, h := range webHits {
		sources = append(sources, domain.SourceFromWebHit(h))
	}
	return sources
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
