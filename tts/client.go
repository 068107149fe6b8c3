// Package tts synthesizes Luo Tianyi's speaking voice through a
// GPT-SoVITS-style HTTP service.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vocagent/vocagent/pkg/otel"
	"github.com/vocagent/vocagent/shared/httpclient"
)

type Config struct {
	URL       string
	Character string
	Format    string
}

type Client struct {
	cfg    Config
	client *http.Client
}

type request struct {
	Text      string `json:"text"`
	Character string `json:"character"`
	Emotion   string `json:"emotion"`
	Format    string `json:"format,omitempty"`
}

func New(cfg Config) *Client {
	if cfg.Character == "" {
		cfg.Character = "洛天依"
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	return &Client{cfg: cfg, client: httpclient.NewLong()}
}

// Synthesize renders one text fragment with the requested voice tone. Empty
// text yields no audio without a network call.
func (c *Client) Synthesize(ctx context.Context, text, tone string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	ctx, span := otel.Tracer("vocagent").Start(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.Int("text.length", len(text)),
			attribute.String("tts.character", c.cfg.Character),
			attribute.String("tts.emotion", tone),
			attribute.String("tts.url", c.cfg.URL),
		))
	defer span.End()

	body, err := json.Marshal(request{
		Text:      text,
		Character: c.cfg.Character,
		Emotion:   tone,
		Format:    c.cfg.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tts request failed")
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("tts error (status %d): %s", resp.StatusCode, string(errBody))
		span.RecordError(err)
		span.SetStatus(codes.Error, "tts request failed")
		return nil, err
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("read response: %w", err)
	}

	span.SetAttributes(attribute.Int("audio.bytes", len(audio)))
	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "speech synthesized",
		"bytes", len(audio), "tone", tone, "latency", time.Since(start))
	return audio, nil
}
