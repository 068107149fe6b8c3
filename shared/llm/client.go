// Package llm wraps an OpenAI-compatible gateway: chat completions,
// embeddings and image description, all traced.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vocagent/vocagent/shared/httpclient"
)

var tracer = otel.GetTracerProvider().Tracer("shared/llm")

// Config holds the configuration for the LLM client.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	VisionModel    string
	MaxTokens      int
	HTTPClient     *http.Client
	Timeout        time.Duration
}

// Option configures a Config.
type Option func(*Config)

// WithModel sets the default model for chat completions.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithEmbeddingModel sets the default model for embeddings.
func WithEmbeddingModel(model string) Option {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithVisionModel sets the model used for image description requests.
func WithVisionModel(model string) Option {
	return func(c *Config) {
		c.VisionModel = model
	}
}

// WithMaxTokens sets the default max tokens for completions.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.MaxTokens = maxTokens
	}
}

// WithHTTPClient sets a custom HTTP client (used by tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
// This is ignored if WithHTTPClient is also used.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// Client wraps the OpenAI client with configuration metadata.
type Client struct {
	*openai.Client
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	VisionModel    string
	MaxTokens      int
}

// NewClient creates an OpenAI-compatible client with the given configuration.
// BaseURL should be the full API base URL (e.g., "https://api.openai.com/v1").
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	cfg := &Config{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APIKey:    apiKey,
		Model:     "gpt-4o-mini",
		MaxTokens: 2048,
		Timeout:   httpclient.TimeoutLong,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	openaiCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		openaiCfg.HTTPClient = cfg.HTTPClient
	} else {
		openaiCfg.HTTPClient = httpclient.New(httpclient.WithTimeout(cfg.Timeout))
	}

	return &Client{
		Client:         openai.NewClientWithConfig(openaiCfg),
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		VisionModel:    cfg.VisionModel,
		MaxTokens:      cfg.MaxTokens,
	}
}

// CreateChatCompletion wraps the OpenAI client's CreateChatCompletion with an OTel span.
func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.request.max_tokens", req.MaxTokens),
		attribute.Int("llm.request.tools", len(req.Tools)),
		attribute.Int("llm.request.messages", len(req.Messages)),
	)
	if req.Temperature > 0 {
		span.SetAttributes(attribute.Float64("llm.request.temperature", float64(req.Temperature)))
	}

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
	)
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		span.SetAttributes(
			attribute.String("llm.response.finish_reason", string(choice.FinishReason)),
			attribute.Int("llm.response.tool_calls", len(choice.Message.ToolCalls)),
			attribute.Int("llm.response.content_length", len(choice.Message.Content)),
		)
	} else {
		span.SetAttributes(attribute.Int("llm.response.choices", 0))
	}

	return resp, nil
}

// CreateEmbeddings wraps the OpenAI client's CreateEmbeddings with an OTel span.
func (c *Client) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.embeddings", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.String("llm.model", string(req.Model)))
	if inputs, ok := req.Input.([]string); ok {
		span.SetAttributes(attribute.Int("llm.request.inputs", len(inputs)))
	}

	resp, err := c.Client.CreateEmbeddings(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
		attribute.Int("llm.response.embeddings", len(resp.Data)),
	)

	return resp, nil
}

