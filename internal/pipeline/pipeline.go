// Package pipeline sequences the retrieval-augmented answering flow: scope
// classification, multi-source retrieval, answer generation, two-stage
// validation, and decision tracing.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/openai"
	"github.com/wakamiya-lab/grantbot/internal/websearch"
)

// Operating modes.
const (
	ModeDoc    = "doc"
	ModeWeb    = "web"
	ModeHybrid = "hybrid"
)

// Failover labels, diagnostic only.
const (
	FailoverDocToWeb = "doc→web"
	FailoverWebToDoc = "web→doc"
)

// Fixed terminal answers. These are defined outcomes, not errors.
const (
	FixedRefusal = "このチャットは補助金・助成制度に関する質問のみ受け付けます。"

	noIndexAnswer    = "インデックスがありません。先に /api/ingest を実行してください。"
	noDocsAnswer     = "該当ドキュメントが見つかりませんでした。"
	noWebAnswer      = "適切なWeb結果が見つかりませんでした。"
	hiddenPromptNote = "[hidden]"
)

const defaultSystemPrompt = "あなたは日本語で正確に答えるアシスタントです。補助金や支援制度についてのみの質問に対し、根拠に基づき簡潔に回答し、不明な点は正直に『不明』と述べてください。絶対に関係のない質問には答えないでください。"

// DocSearcher is the document retrieval dependency.
type DocSearcher interface {
	Exists() bool
	Search(ctx context.Context, query string, k int) ([]domain.DocHit, error)
}

// WebSearcher is the web retrieval dependency.
type WebSearcher interface {
	Search(ctx context.Context, query string, params websearch.Params) ([]domain.WebHit, error)
	FetchText(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// ChatCompleter is the completion gateway used for answer generation.
type ChatCompleter interface {
	Chat(ctx context.Context, req openai.ChatRequest) (openai.ChatResult, error)
}

// ScopeClassifier labels queries IN/OUT/UNSURE of the allowed topic domain.
type ScopeClassifier interface {
	Classify(ctx context.Context, query string) (domain.ScopeDecision, error)
}

// AnswerValidator applies the two-stage answer policy check.
type AnswerValidator interface {
	Validate(ctx context.Context, query, answer string, sources []domain.Source) (domain.ValidationOutcome, error)
}

// PreviewReader reads document text for context assembly.
type PreviewReader interface {
	ReadPreview(ctx context.Context, path string, limit int) (string, error)
}

// Options tunes the pipeline. Zero values fall back to deployment defaults.
type Options struct {
	TopK           int
	ScopeThreshold float64
	CtxMaxChunks   int
	CtxMaxChars    int
	SystemPrompt   string
	LLMModel       string

	FetchTimeout     time.Duration
	FetchConcurrency int

	// DebugTrace enables trace payloads; the caller must also request debug
	// output on the individual request.
	DebugTrace bool
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.ScopeThreshold == 0 {
		o.ScopeThreshold = 0.6
	}
	if o.CtxMaxChunks <= 0 {
		o.CtxMaxChunks = 4
	}
	if o.CtxMaxChars <= 0 {
		o.CtxMaxChars = 1500
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = defaultSystemPrompt
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = 4
	}
	return o
}

// Request is one accepted query. Immutable for the request's lifetime.
type Request struct {
	Query   string
	Mode    string
	Debug   bool
	TraceID string
}

// Response is the final payload: answer plus citations, with the full trace
// attached only when both the request and the deployment enable debugging.
type Response struct {
	Answer  string          `json:"answer"`
	Sources []domain.Source `json:"sources"`
	Trace   *Trace          `json:"trace,omitempty"`
}

// Pipeline owns the per-request control flow. Dependencies are injected at
// construction; no hidden globals.
type Pipeline struct {
	scope     ScopeClassifier
	docs      DocSearcher
	web       WebSearcher
	chat      ChatCompleter
	validator AnswerValidator
	previews  PreviewReader
	tracer    *Tracer
	opts      Options
}

func New(
	scope ScopeClassifier,
	docs DocSearcher,
	web WebSearcher,
	chat ChatCompleter,
	validator AnswerValidator,
	previews PreviewReader,
	tracer *Tracer,
	opts Options,
) *Pipeline {
	return &Pipeline{
		scope:     scope,
		docs:      docs,
		web:       web,
		chat:      chat,
		validator: validator,
		previews:  previews,
		tracer:    tracer,
		opts:      opts.withDefaults(),
	}
}

// state is the mutable per-request record. Hybrid branches run concurrently,
// so mutation goes through the mutex.
type state struct {
	mu sync.Mutex

	traceID string
	mode    string
	query   string

	timing map[string]int64
	usage  *domain.Usage

	docHits []domain.DocHit
	webHits []domain.WebHit

	docPreview []string
	webPreview []string

	fetchErrors  []string
	branchErrors []string

	scope     domain.ScopeDecision
	validator *domain.ValidationOutcome
	failover  string
}

func newState(req Request) *state {
	return &state{
		traceID: req.TraceID,
		mode:    req.Mode,
		query:   req.Query,
		timing:  map[string]int64{},
	}
}

func (s *state) addTiming(key string, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing[key] += ms
}

func (s *state) setUsage(u *domain.Usage) {
	if u == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *u
	s.usage = &copied
}

func (s *state) addFetchError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErrors = append(s.fetchErrors, msg)
}

func (s *state) addBranchError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branchErrors = append(s.branchErrors, msg)
}

// Answer runs the full pipeline for one request.
func (p *Pipeline) Answer(ctx context.Context, req Request) (*Response, error) {
	switch req.Mode {
	case ModeDoc, ModeWeb, ModeHybrid:
	default:
		return nil, domain.ErrInvalidMode
	}

	start := time.Now()
	st := newState(req)

	scope, err := p.scope.Classify(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	st.scope = scope
	p.tracer.Decision(st, StageScopeChecked, "")

	if scope.Label != domain.ScopeIn || scope.Score < p.opts.ScopeThreshold {
		p.tracer.Decision(st, StageEarlyReject, DecisionRejectScope)
		return &Response{Answer: FixedRefusal, Sources: []domain.Source{}}, nil
	}

	gen, err := p.generate(ctx, st, req.Query, req.Mode)
	if err != nil {
		return nil, err
	}
	st.docHits = gen.docHits
	st.webHits = gen.webHits
	st.failover = gen.failover
	p.tracer.Decision(st, StageGenerated, "")

	outcome, err := p.validator.Validate(ctx, req.Query, gen.answer, gen.sources)
	if err != nil {
		return nil, err
	}
	st.validator = &outcome
	if !outcome.Pass {
		p.tracer.Decision(st, StageValidated, DecisionRejectValidate)
		return &Response{Answer: FixedRefusal, Sources: []domain.Source{}}, nil
	}

	st.addTiming("total_ms", time.Since(start).Milliseconds())

	resp := &Response{
		Answer:  gen.answer,
		Sources: summarizeSources(gen.docHits, gen.webHits),
	}

	trace := p.buildTrace(st)
	p.tracer.Decision(st, StageDone, DecisionAccept)
	p.tracer.Trace(trace)

	if req.Debug && p.opts.DebugTrace {
		resp.Trace = trace
	}
	return resp, nil
}

// errBothBranchesFailed joins hybrid branch errors when neither source
// produced anything usable.
func errBothBranchesFailed(docErr, webErr error) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService,
		"both retrieval branches failed", errors.Join(docErr, webErr))
}
