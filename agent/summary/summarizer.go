// Package summary keeps the per-user rolling context summary from growing
// without bound. When the working window exceeds its limit, the oldest window
// entries are folded into the summary and the window shrinks back to its
// post-compaction size.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/llm"
)

const (
	// DefaultWindowLimit is how many working-window entries trigger compaction.
	DefaultWindowLimit = 100
	// DefaultKeepCount is how many newest entries survive a compaction.
	DefaultKeepCount = 20
)

const summaryPrompt = `你在为洛天依整理她与用户的对话记忆。把较早的对话压缩进已有的摘要，保留用户的重要信息、双方聊过的话题和情感走向，删去寒暄和重复。

已有摘要：
%s

较早的对话：
%s

只输出新的摘要正文，不要任何解释。`

// Memory is the slice of the memory facade the summarizer works through.
type Memory interface {
	ReadUser(ctx context.Context, userID string) (*domain.User, error)
	TailConversations(ctx context.Context, userID string, n int) ([]*domain.ConversationEntry, error)
	ReplaceSummary(ctx context.Context, userID, summary string, windowCount int) error
}

type Summarizer struct {
	model llm.ChatModel
	mem   Memory
	limit int
	keep  int

	// inflight coalesces concurrent compactions per user.
	inflight sync.Map
}

func New(model llm.ChatModel, mem Memory, limit, keep int) *Summarizer {
	if limit <= 0 {
		limit = DefaultWindowLimit
	}
	if keep <= 0 {
		keep = DefaultKeepCount
	}
	return &Summarizer{model: model, mem: mem, limit: limit, keep: keep}
}

// MaybeCompact folds the oldest window entries into the rolling summary when
// the window has outgrown the limit. A compaction already running for the same
// user makes this a no-op.
func (s *Summarizer) MaybeCompact(ctx context.Context, userID string) error {
	user, err := s.mem.ReadUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("read user: %w", err)
	}
	if user.ContextMemoryCount <= s.limit {
		return nil
	}

	if _, busy := s.inflight.LoadOrStore(userID, struct{}{}); busy {
		return nil
	}
	defer s.inflight.Delete(userID)

	window, err := s.mem.TailConversations(ctx, userID, user.ContextMemoryCount)
	if err != nil {
		return fmt.Errorf("read working window: %w", err)
	}
	if len(window) <= s.keep {
		return nil
	}
	old := window[:len(window)-s.keep]

	prompt := fmt.Sprintf(summaryPrompt, orPlaceholder(user.ContextSummary), renderEntries(old))
	summary, err := s.model.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, llm.CompleteOptions{})
	if err != nil {
		return fmt.Errorf("summarize context: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		slog.WarnContext(ctx, "empty summary, keeping previous one", "user_id", userID)
		return nil
	}

	if err := s.mem.ReplaceSummary(ctx, userID, summary, s.keep); err != nil {
		return fmt.Errorf("replace summary: %w", err)
	}
	slog.InfoContext(ctx, "context compacted",
		"user_id", userID, "folded", len(old), "kept", s.keep)
	return nil
}

func orPlaceholder(s string) string {
	if s == "" {
		return "（无）"
	}
	return s
}

func renderEntries(entries []*domain.ConversationEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", domain.FormatTimestamp(e.Timestamp), e.Source, e.Content)
	}
	return b.String()
}
