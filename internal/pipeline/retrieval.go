package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/websearch"
)

// branchResult is one retrieval branch's terminal output: an answer (or a
// fixed empty-evidence message) plus the hits and sources that grounded it.
type branchResult struct {
	answer  string
	sources []domain.Source
	docHits []domain.DocHit
	webHits []domain.WebHit
}

type genResult struct {
	answer   string
	sources  []domain.Source
	docHits  []domain.DocHit
	webHits  []domain.WebHit
	failover string
}

func (p *Pipeline) generate(ctx context.Context, st *state, query, mode string) (genResult, error) {
	switch mode {
	case ModeWeb:
		w, err := p.retrieveWeb(ctx, st, query)
		if err != nil {
			return genResult{}, err
		}
		return genResult{answer: w.answer, sources: w.sources, webHits: w.webHits}, nil

	case ModeHybrid:
		return p.generateHybrid(ctx, st, query)

	default: // ModeDoc, checked by the controller
		d, err := p.retrieveDoc(ctx, st, query)
		if err != nil {
			return genResult{}, err
		}
		return genResult{answer: d.answer, sources: d.sources, docHits: d.docHits}, nil
	}
}

// retrieveDoc drives the vector index path. An absent index is a defined
// terminal outcome, not an error.
func (p *Pipeline) retrieveDoc(ctx context.Context, st *state, query string) (branchResult, error) {
	if !p.docs.Exists() {
		return branchResult{answer: noIndexAnswer, sources: []domain.Source{}}, nil
	}

	start := time.Now()
	hits, err := p.docs.Search(ctx, query, p.opts.TopK)
	st.addTiming("retrieval_ms_doc", time.Since(start).Milliseconds())
	if err != nil {
		return branchResult{}, err
	}

	var contexts []string
	var sources []domain.Source
	for _, h := range topDocHits(hits, 3) {
		preview, perr := p.previews.ReadPreview(ctx, h.Path, 3000)
		if perr != nil {
			st.addFetchError(fmt.Sprintf("preview %s: %v", h.Path, perr))
		} else if preview != "" {
			contexts = append(contexts, preview)
		}
		sources = append(sources, domain.SourceFromDocHit(h))
	}

	answer := noDocsAnswer
	if len(contexts) > 0 {
		answer, err = p.summarize(ctx, st, query, contexts)
		if err != nil {
			return branchResult{}, err
		}
	}

	st.mu.Lock()
	st.docPreview = p.docContextPreview(ctx, hits)
	st.mu.Unlock()

	return branchResult{answer: answer, sources: sources, docHits: hits}, nil
}

// retrieveWeb drives the web search path: search, fetch page text per hit
// concurrently, drop textless hits, summarize what remains.
func (p *Pipeline) retrieveWeb(ctx context.Context, st *state, query string) (branchResult, error) {
	start := time.Now()
	results, err := p.web.Search(ctx, query, websearch.Params{Pages: 1})
	st.addTiming("retrieval_ms_web", time.Since(start).Milliseconds())
	if err != nil {
		return branchResult{}, err
	}

	if len(results) > p.opts.TopK {
		results = results[:p.opts.TopK]
	}

	texts := p.fetchAll(ctx, st, results)

	var contexts []string
	var sources []domain.Source
	var webHits []domain.WebHit
	for i, r := range results {
		text := texts[i]
		if text == "" {
			continue
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = truncateRunes(text, 240)
		}
		contexts = append(contexts, truncateRunes(text, 3000))

		hit := r
		hit.Snippet = snippet
		webHits = append(webHits, hit)
		sources = append(sources, domain.SourceFromWebHit(hit))
	}

	answer := noWebAnswer
	if len(contexts) > 0 {
		answer, err = p.summarize(ctx, st, query, contexts)
		if err != nil {
			return branchResult{}, err
		}
	}

	st.mu.Lock()
	st.webPreview = webContextPreview(webHits)
	st.mu.Unlock()

	return branchResult{answer: answer, sources: sources, webHits: webHits}, nil
}

// fetchAll retrieves page text for each hit with bounded concurrency and a
// per-fetch timeout. A failed fetch degrades that hit to empty text only.
func (p *Pipeline) fetchAll(ctx context.Context, st *state, results []domain.WebHit) []string {
	texts := make([]string, len(results))

	g := new(errgroup.Group)
	g.SetLimit(p.opts.FetchConcurrency)
	for i, r := range results {
		if r.URL == "" {
			continue
		}
		g.Go(func() error {
			text, err := p.web.FetchText(ctx, r.URL, p.opts.FetchTimeout)
			if err != nil {
				st.addFetchError(fmt.Sprintf("fetch %s: %v", r.URL, err))
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait() // fetch errors never propagate

	return texts
}

// generateHybrid runs the doc and web branches concurrently, then builds a
// fresh merged context from up to 6 combined sources. A failure in one
// branch degrades it to an empty result instead of aborting the other.
func (p *Pipeline) generateHybrid(ctx context.Context, st *state, query string) (genResult, error) {
	var wg sync.WaitGroup
	var d, w branchResult
	var dErr, wErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		d, dErr = p.retrieveDoc(ctx, st, query)
	}()
	go func() {
		defer wg.Done()
		w, wErr = p.retrieveWeb(ctx, st, query)
	}()
	wg.Wait()

	if dErr != nil && wErr != nil {
		return genResult{}, errBothBranchesFailed(dErr, wErr)
	}
	if dErr != nil {
		st.addBranchError(fmt.Sprintf("doc branch: %v", dErr))
		d = branchResult{answer: noDocsAnswer, sources: []domain.Source{}}
	}
	if wErr != nil {
		st.addBranchError(fmt.Sprintf("web branch: %v", wErr))
		w = branchResult{answer: noWebAnswer, sources: []domain.Source{}}
	}

	// Merged context is rebuilt from scratch so the combined answer reads
	// fresh text, not the per-branch summaries.
	merged := append(append([]domain.Source{}, d.sources...), w.sources...)
	if len(merged) > 6 {
		merged = merged[:6]
	}

	var contexts []string
	for _, s := range merged {
		switch {
		case s.Kind == domain.SourceKindWeb && s.URL != "":
			text, err := p.web.FetchText(ctx, s.URL, p.opts.FetchTimeout)
			if err != nil {
				st.addFetchError(fmt.Sprintf("fetch %s: %v", s.URL, err))
				continue
			}
			if text != "" {
				contexts = append(contexts, truncateRunes(text, 1500))
			}
		case s.Kind == domain.SourceKindDoc && s.Path != "":
			preview, err := p.previews.ReadPreview(ctx, s.Path, 1500)
			if err != nil {
				st.addFetchError(fmt.Sprintf("preview %s: %v", s.Path, err))
				continue
			}
			if preview != "" {
				contexts = append(contexts, preview)
			}
		}
	}

	var answer string
	if len(contexts) > 0 {
		var err error
		answer, err = p.summarize(ctx, st, query, contexts)
		if err != nil {
			return genResult{}, err
		}
	} else {
		answer = d.answer + "\n\n" + w.answer
	}

	var failover string
	switch {
	case len(d.docHits) == 0 && len(w.webHits) > 0:
		failover = FailoverDocToWeb
	case len(w.webHits) == 0 && len(d.docHits) > 0:
		failover = FailoverWebToDoc
	}

	return genResult{
		answer:   answer,
		sources:  append(append([]domain.Source{}, d.sources...), w.sources...),
		docHits:  d.docHits,
		webHits:  w.webHits,
		failover: failover,
	}, nil
}

func topDocHits(hits []domain.DocHit, n int) []domain.DocHit {
	if len(hits) > n {
		return hits[:n]
	}
	return hits
}
