package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG_RAG" default:"false"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	SerpAPIKey   string `envconfig:"SERP_API_KEY"`

	LLMModel        string `envconfig:"LLM_MODEL" default:"gpt-4.1-nano"`
	ClassifierModel string `envconfig:"CLASSIFIER_MODEL"`
	EmbedModel      string `envconfig:"EMBED_MODEL" default:"text-embedding-3-small"`
	SystemPrompt    string `envconfig:"SYS_PROMPT"`

	DocDir   string `envconfig:"DOC_DIR" default:"data/docs"`
	IndexDir string `envconfig:"INDEX_DIR" default:"data/index"`

	TopK           int     `envconfig:"RAG_TOP_K" default:"5"`
	ScopeThreshold float64 `envconfig:"SCOPE_THRESHOLD" default:"0.6"`
	CtxMaxChunks   int     `envconfig:"CTX_MAX_CHUNKS" default:"4"`
	CtxMaxChars    int     `envconfig:"CTX_MAX_CHARS" default:"1500"`
	MaxAnswerChars int     `envconfig:"MAX_ANSWER_CHARS" default:"1200"`

	FetchTimeoutSec  int `envconfig:"FETCH_TIMEOUT_SEC" default:"10"`
	FetchConcurrency int `envconfig:"FETCH_CONCURRENCY" default:"4"`

	LogFile string `envconfig:"LOG_FILE"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"grantbot-docs"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("GRANTBOT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// SerpAPI documents both spellings; accept either.
	if cfg.SerpAPIKey == "" {
		cfg.SerpAPIKey = os.Getenv("SERPAPI_API_KEY")
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// ValidateForServe checks the settings that make the answering pipeline
// unusable when absent. A missing completion credential is fatal at startup
// rather than at first request.
func (c *Config) ValidateForServe() error {
	if c.OpenAIAPIKey == "" {
		return domain.ErrMissingOpenAIKey
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasSerpAPI() bool {
	return c.SerpAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
