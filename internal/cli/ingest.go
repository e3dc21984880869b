package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wakamiya-lab/grantbot/internal/config"
	"github.com/wakamiya-lab/grantbot/internal/index"
	"github.com/wakamiya-lab/grantbot/internal/ingest"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

// IngestCmd returns the one-shot local ingestion command.
func IngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the vector index from the document directory",
		Long:  "Scan the configured document directory, embed every supported file, and replace the on-disk index",
		RunE:  runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ai := openai.NewClient(cfg.OpenAIAPIKey, openai.WithEmbeddingModel(cfg.EmbedModel))
	store := index.NewStore(cfg.IndexDir)
	svc := ingest.NewService(ai, store, ingest.NewReader(nil), cfg.DocDir)

	docs, err := svc.IngestDir(cmd.Context())
	if err != nil {
		return err
	}

	if docs == 0 {
		fmt.Printf("no ingestable files in %s\n", cfg.DocDir)
		return nil
	}
	fmt.Printf("indexed %d document(s) from %s into %s\n", docs, cfg.DocDir, cfg.IndexDir)
	return nil
}
