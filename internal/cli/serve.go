package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wakamiya-lab/grantbot/internal/api/handlers"
	"github.com/wakamiya-lab/grantbot/internal/config"
	"github.com/wakamiya-lab/grantbot/internal/index"
	"github.com/wakamiya-lab/grantbot/internal/ingest"
	"github.com/wakamiya-lab/grantbot/internal/logging"
	"github.com/wakamiya-lab/grantbot/internal/openai"
	"github.com/wakamiya-lab/grantbot/internal/pipeline"
	"github.com/wakamiya-lab/grantbot/internal/scope"
	"github.com/wakamiya-lab/grantbot/internal/server"
	"github.com/wakamiya-lab/grantbot/internal/storage"
	"github.com/wakamiya-lab/grantbot/internal/telemetry"
	"github.com/wakamiya-lab/grantbot/internal/validate"
	"github.com/wakamiya-lab/grantbot/internal/websearch"
)

// ServeCmd returns the serve command.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the grantbot API server on the configured port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	if portFlag, _ := cmd.Flags().GetString("port"); portFlag != "" {
		cfg.Port = portFlag
	}

	log := logging.New(logging.Config{LogFile: cfg.LogFile, Development: cfg.Debug})
	defer log.Sync()

	if cfg.HasSentry() {
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Warn("telemetry init failed (continuing without tracing)", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	ai := openai.NewClient(cfg.OpenAIAPIKey,
		openai.WithEmbeddingModel(cfg.EmbedModel),
		openai.WithChatModel(cfg.LLMModel),
	)

	store := index.NewStore(cfg.IndexDir)
	searcher := index.NewSearcher(ai, store)
	web := websearch.NewClient(cfg.SerpAPIKey)
	reader := ingest.NewReader(nil)
	ingestSvc := ingest.NewService(ai, store, reader, cfg.DocDir)

	classifierModel := cfg.ClassifierModel
	if classifierModel == "" {
		classifierModel = cfg.LLMModel
	}
	classifier := scope.NewClassifier(ai, classifierModel)
	validator := validate.NewValidator(ai, cfg.LLMModel, cfg.MaxAnswerChars)

	pipe := pipeline.New(classifier, searcher, web, ai, validator, reader,
		pipeline.NewTracer(log),
		pipeline.Options{
			TopK:             cfg.TopK,
			ScopeThreshold:   cfg.ScopeThreshold,
			CtxMaxChunks:     cfg.CtxMaxChunks,
			CtxMaxChars:      cfg.CtxMaxChars,
			SystemPrompt:     cfg.SystemPrompt,
			LLMModel:         cfg.LLMModel,
			FetchTimeout:     time.Duration(cfg.FetchTimeoutSec) * time.Second,
			FetchConcurrency: cfg.FetchConcurrency,
			DebugTrace:       cfg.Debug,
		},
	)

	var archiver handlers.DocumentArchiver
	var remover handlers.DocumentRemover
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Info("storage.bucket_ready", zap.String("bucket", cfg.S3Bucket))
		archiver = s3Client
		remover = s3Client
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:        log,
		AskHandler:    handlers.NewAskHandler(pipe),
		IngestHandler: handlers.NewIngestHandler(ingestSvc),
		UploadHandler: handlers.NewUploadHandler(cfg.DocDir, archiver, log),
		FilesHandler:  handlers.NewFilesHandler(store, store, cfg.DocDir, remover, log),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server.start", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("server.shutdown_begin")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server.shutdown_done")
	return nil
}
