package pipeline

import (
	"go.uber.org/zap"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

// Decision stages, emitted in order as the request advances.
const (
	StageScopeChecked = "scope_checked"
	StageEarlyReject  = "early_reject"
	StageGenerated    = "generated"
	StageValidated    = "validated"
	StageDone         = "done"
)

// Terminal decisions.
const (
	DecisionRejectScope    = "reject_scope"
	DecisionRejectValidate = "reject_validate"
	DecisionAccept         = "accept"
)

// TraceParams records the tunables in effect for the request.
type TraceParams struct {
	TopK           int     `json:"top_k"`
	ScopeThreshold float64 `json:"scope_threshold"`
	CtxMaxChunks   int     `json:"ctx_max_chunks"`
	CtxMaxChars    int     `json:"ctx_max_chars"`
	Model          string  `json:"model"`
}

// Trace is the full per-request decision record. The prompt field always
// carries a placeholder so system prompt text never leaves the service.
type Trace struct {
	SchemaVersion  int                       `json:"schema_version"`
	TraceID        string                    `json:"trace_id"`
	Mode           string                    `json:"mode"`
	Query          string                    `json:"query"`
	Params         TraceParams               `json:"params"`
	TimingMS       map[string]int64          `json:"timing_ms"`
	Scope          domain.ScopeDecision      `json:"scope"`
	ScopeRaw       string                    `json:"scope_raw,omitempty"`
	DocHits        []domain.DocHit           `json:"doc_hits,omitempty"`
	WebHits        []domain.WebHit           `json:"web_hits,omitempty"`
	ContextPreview []string                  `json:"context_preview,omitempty"`
	Prompt         string                    `json:"prompt"`
	Usage          *domain.Usage             `json:"usage,omitempty"`
	Failover       string                    `json:"failover,omitempty"`
	Validator      *domain.ValidationOutcome `json:"validator,omitempty"`
	FetchErrors    []string                  `json:"fetch_errors,omitempty"`
	BranchErrors   []string                  `json:"branch_errors,omitempty"`
}

// Tracer writes decision and trace records to the structured log. A nil
// Tracer (or one built over a nil logger) is a no-op, so callers never guard.
type Tracer struct {
	log *zap.Logger
}

func NewTracer(log *zap.Logger) *Tracer {
	return &Tracer{log: log}
}

// Decision logs one stage transition for the request, carrying the timing,
// hit counts, and failover state accumulated so far.
func (t *Tracer) Decision(st *state, stage, decision string) {
	if t == nil || t.log == nil {
		return
	}

	st.mu.Lock()
	timing := make(map[string]int64, len(st.timing))
	for k, v := range st.timing {
		timing[k] = v
	}
	docHits := len(st.docHits)
	webHits := len(st.webHits)
	failover := st.failover
	validator := st.validator
	st.mu.Unlock()

	fields := []zap.Field{
		zap.String("trace_id", st.traceID),
		zap.String("stage", stage),
		zap.String("mode", st.mode),
		zap.String("scope_label", st.scope.Label),
		zap.Float64("scope_score", st.scope.Score),
		zap.Any("timing_ms", timing),
		zap.Int("doc_hits", docHits),
		zap.Int("web_hits", webHits),
	}
	if failover != "" {
		fields = append(fields, zap.String("failover", failover))
	}
	if validator != nil {
		fields = append(fields, zap.Any("validator", validator))
	}
	if decision != "" {
		fields = append(fields, zap.String("decision", decision))
	}
	t.log.Info("rag.decision", fields...)
}

// Trace logs the complete per-request record as one structured entry.
func (t *Tracer) Trace(tr *Trace) {
	if t == nil || t.log == nil || tr == nil {
		return
	}
	t.log.Info("rag.trace",
		zap.String("trace_id", tr.TraceID),
		zap.Any("trace", tr),
	)
}

// buildTrace snapshots the request state into an immutable trace record.
func (p *Pipeline) buildTrace(st *state) *Trace {
	st.mu.Lock()
	defer st.mu.Unlock()

	timing := make(map[string]int64, len(st.timing))
	for k, v := range st.timing {
		timing[k] = v
	}

	preview := dedupPreview(append(append([]string{}, st.docPreview...), st.webPreview...), 6)

	return &Trace{
		SchemaVersion: 1,
		TraceID:       st.traceID,
		Mode:          st.mode,
		Query:         st.query,
		Params: TraceParams{
			TopK:           p.opts.TopK,
			ScopeThreshold: p.opts.ScopeThreshold,
			CtxMaxChunks:   p.opts.CtxMaxChunks,
			CtxMaxChars:    p.opts.CtxMaxChars,
			Model:          p.opts.LLMModel,
		},
		TimingMS:       timing,
		Scope:          st.scope,
		ScopeRaw:       st.scope.RawText,
		DocHits:        st.docHits,
		WebHits:        st.webHits,
		ContextPreview: preview,
		Prompt:         hiddenPromptNote,
		Usage:          st.usage,
		Failover:       st.failover,
		Validator:      st.validator,
		FetchErrors:    st.fetchErrors,
		BranchErrors:   st.branchErrors,
	}
}
