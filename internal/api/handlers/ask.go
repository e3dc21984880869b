package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wakamiya-lab/grantbot/internal/api"
	"github.com/wakamiya-lab/grantbot/internal/api/middleware"
	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/pipeline"
)

// Answerer runs the full answering pipeline for one query.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

type AskHandler struct {
	pipeline Answerer
}

func NewAskHandler(p Answerer) *AskHandler {
	return &AskHandler{pipeline: p}
}

type AskRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	Debug bool   `json:"debug,omitempty"`
}

// Ask answers one question.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetRequestID(r.Context())

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, traceID, "invalid request body")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		api.HandleError(w, traceID, domain.ErrEmptyQuery)
		return
	}

	mode := strings.TrimSpace(strings.ToLower(req.Mode))
	if mode == "" {
		mode = pipeline.ModeDoc
	}

	resp, err := h.pipeline.Answer(r.Context(), pipeline.Request{
		Query:   query,
		Mode:    mode,
		Debug:   req.Debug,
		TraceID: traceID,
	})
	if err != nil {
		api.HandleError(w, traceID, err)
		return
	}

	fields := map[string]any{
		"answer":  resp.Answer,
		"sources": resp.Sources,
		"mode":    mode,
	}
	if resp.Trace != nil {
		fields["trace"] = resp.Trace
	}
	api.OK(w, traceID, fields)
}
