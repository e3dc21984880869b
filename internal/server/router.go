package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wakamiya-lab/grantbot/internal/api"
	"github.com/wakamiya-lab/grantbot/internal/api/handlers"
	"github.com/wakamiya-lab/grantbot/internal/api/middleware"
)

type RouterConfig struct {
	Logger        *zap.Logger
	AskHandler    *handlers.AskHandler
	IngestHandler *handlers.IngestHandler
	UploadHandler *handlers.UploadHandler
	FilesHandler  *handlers.FilesHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 50 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.OK(w, "", map[string]any{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/ask", cfg.AskHandler.Ask)
		r.Post("/ingest", cfg.IngestHandler.Ingest)
		r.Post("/upload", cfg.UploadHandler.Upload)
		r.Post("/reset", cfg.FilesHandler.Reset)
		r.Get("/files", cfg.FilesHandler.List)
		r.Delete("/files/{name}", cfg.FilesHandler.Delete)
	})

	return r
}
