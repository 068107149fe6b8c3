package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocagent/vocagent/shared/backoff"
)

// ChatModel is the narrow interface agent stages depend on. *Client satisfies
// it; tests substitute scripted fakes.
type ChatModel interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, opts CompleteOptions) (string, error)
}

// Embedder produces a single embedding vector for a text.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// CompleteOptions tunes a single completion call.
type CompleteOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// JSONOnly requests a JSON object response from the model.
	JSONOnly bool
}

var chatRetry = backoff.Exponential(time.Second, 3, 0.5)

// Complete runs a chat completion and returns the first choice's content.
// Transient failures are retried with exponential backoff before giving up.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, opts CompleteOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSONOnly {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	err := backoff.RetryWithCallback(ctx, chatRetry, func(ctx context.Context, attempt int) error {
		resp, err := c.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion: empty choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		slog.WarnContext(ctx, "llm call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// EmbedOne embeds a single text with the configured embedding model.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.EmbeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// DescribeImage sends a base64-encoded JPEG to the vision model along with a
// prompt and returns the textual description.
func (c *Client) DescribeImage(ctx context.Context, prompt, imageB64 string) (string, error) {
	model := c.VisionModel
	if model == "" {
		model = c.Model
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + imageB64,
						},
					},
				},
			},
		},
		MaxTokens: c.MaxTokens,
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("describe image: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
