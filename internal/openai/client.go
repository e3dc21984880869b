package openai

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for embeddings
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultChatModel is the OpenAI model used for chat completions
	DefaultChatModel = "gpt-4.1-nano"
)

var (
	// ErrNoAPIKey is returned when the OpenAI API key is not set
	ErrNoAPIKey = domain.ErrMissingOpenAIKey
	// ErrEmptyInput is returned when there is nothing to embed or complete
	ErrEmptyInput = errors.New("input cannot be empty")
)

// CallMeta is the per-call metadata envelope: latency, token usage when the
// service reports it, the model answering, and (for chat) the finish reason
// and response id.
type CallMeta struct {
	LatencyMS    int64         `json:"ms"`
	Usage        *domain.Usage `json:"usage,omitempty"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	ID           string        `json:"id,omitempty"`
}

// ChatRequest is one structured prompt for the completion service.
type ChatRequest struct {
	System      string
	User        string
	Model       string
	Temperature float32
	MaxTokens   int
	// JSONOnly requests JSON-constrained output from models that support it.
	JSONOnly bool
}

// ChatResult carries the generated text and its metadata envelope.
type ChatResult struct {
	Text string
	Meta CallMeta
}

// API is the subset of the OpenAI client the gateways use.
type API interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the OpenAI API behind the embedding and completion gateways.
// Calls are not retried here; retry policy belongs to callers.
type Client struct {
	api        API
	embedModel string
	chatModel  string
}

type Option func(*Client)

// WithAPI swaps the underlying OpenAI client, used by tests.
func WithAPI(api API) Option {
	return func(c *Client) { c.api = api }
}

func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.embedModel = model
		}
	}
}

func WithChatModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		api:        openai.NewClient(apiKey),
		embedModel: DefaultEmbeddingModel,
		chatModel:  DefaultChatModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromEnv creates a client from OPENAI_API_KEY.
func NewClientFromEnv(opts ...Option) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey, opts...), nil
}

// EmbedTexts converts texts into fixed-dimension vectors, in input order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, CallMeta, error) {
	meta := CallMeta{Model: c.embedModel}
	if len(texts) == 0 {
		return nil, meta, ErrEmptyInput
	}

	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	meta.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		return nil, meta, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "embedding call failed", err)
	}

	meta.Usage = usageOf(resp.Usage)

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, meta, nil
}

// Chat sends one system+user prompt to the completion service.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	meta := CallMeta{Model: model}

	if strings.TrimSpace(req.User) == "" {
		return ChatResult{Meta: meta}, ErrEmptyInput
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	// go-openai drops a zero temperature from the request body, so a true
	// zero has to be the smallest representable value instead.
	temperature := req.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	meta.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		return ChatResult{Meta: meta}, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "chat completion failed", err)
	}

	meta.Usage = usageOf(resp.Usage)
	meta.ID = resp.ID
	if resp.Model != "" {
		meta.Model = resp.Model
	}

	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		meta.FinishReason = string(resp.Choices[0].FinishReason)
	}

	return ChatResult{Text: text, Meta: meta}, nil
}

// usageOf treats all-zero usage as absent rather than an error.
func usageOf(u openai.Usage) *domain.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return &domain.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
