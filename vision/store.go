package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/vocagent/vocagent/shared/llm"
)

// fileTimestampLayout names stored images by wall-clock time, one per second
// per user.
const fileTimestampLayout = "2006-01-02_15-04-05"

const describePrompt = "用中文简要描述这张图片的内容，一两句话，提到画面里值得聊的细节。"

// VisionModel describes an image for the conversation log.
type VisionModel interface {
	DescribeImage(ctx context.Context, prompt, imageB64 string) (string, error)
}

var _ VisionModel = (*llm.Client)(nil)

// Service normalizes, stores and describes user images.
type Service struct {
	root  string
	model VisionModel
}

func NewService(root string, model VisionModel) *Service {
	return &Service{root: root, model: model}
}

// Ingest normalizes the image, writes it under the user's image directory and
// returns the server-side path plus the model's description.
func (s *Service) Ingest(ctx context.Context, userID string, data []byte, now time.Time) (string, string, error) {
	normalized, err := Normalize(data)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(s.root, "images", userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(dir, now.Format(fileTimestampLayout)+".jpg")
	if err := os.WriteFile(path, normalized, 0o644); err != nil {
		return "", "", fmt.Errorf("write image: %w", err)
	}

	desc, err := s.model.DescribeImage(ctx, describePrompt, base64.StdEncoding.EncodeToString(normalized))
	if err != nil {
		return "", "", fmt.Errorf("describe image: %w", err)
	}
	return path, desc, nil
}

// Read returns the stored bytes and a Content-Type derived from the file
// extension. The path must be one previously produced by Ingest.
func (s *Service) Read(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return data, ctype, nil
}
