package handlers

import (
	"context"
	"net/http"

	"github.com/wakamiya-lab/grantbot/internal/api"
	"github.com/wakamiya-lab/grantbot/internal/api/middleware"
)

// Ingester rebuilds the index from the document directory.
type Ingester interface {
	IngestDir(ctx context.Context) (int, error)
}

type IngestHandler struct {
	svc Ingester
}

func NewIngestHandler(svc Ingester) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// Ingest rebuilds the index wholesale. A document directory with nothing
// ingestable reports zero documents, not an error.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetRequestID(r.Context())

	docs, err := h.svc.IngestDir(r.Context())
	if err != nil {
		api.HandleError(w, traceID, err)
		return
	}

	api.OK(w, traceID, map[string]any{"indexed_docs": docs})
}
