package summary

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/llm"
)

type blockingModel struct {
	reply string
	err   error
	gate  chan struct{}

	mu    sync.Mutex
	calls int
	seen  string
}

func (m *blockingModel) Complete(_ context.Context, msgs []openai.ChatCompletionMessage, _ llm.CompleteOptions) (string, error) {
	m.mu.Lock()
	m.calls++
	m.seen = msgs[0].Content
	m.mu.Unlock()
	if m.gate != nil {
		<-m.gate
	}
	return m.reply, m.err
}

type memStub struct {
	user    *domain.User
	entries []*domain.ConversationEntry

	mu           sync.Mutex
	savedSummary string
	savedWindow  int
	replaceCalls int
}

func (m *memStub) ReadUser(_ context.Context, _ string) (*domain.User, error) {
	return m.user, nil
}

func (m *memStub) TailConversations(_ context.Context, _ string, n int) ([]*domain.ConversationEntry, error) {
	if n > len(m.entries) {
		n = len(m.entries)
	}
	return m.entries[len(m.entries)-n:], nil
}

func (m *memStub) ReplaceSummary(_ context.Context, _, summary string, windowCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedSummary = summary
	m.savedWindow = windowCount
	m.replaceCalls++
	return nil
}

func makeEntries(n int) []*domain.ConversationEntry {
	entries := make([]*domain.ConversationEntry, n)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	for i := range entries {
		entries[i] = &domain.ConversationEntry{
			UUID:      fmt.Sprintf("conv_%03d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    domain.SourceUser,
			Type:      domain.ContentText,
			Content:   fmt.Sprintf("第%d句", i),
		}
	}
	return entries
}

func TestMaybeCompactBelowLimitIsNoop(t *testing.T) {
	model := &blockingModel{reply: "摘要"}
	mem := &memStub{user: &domain.User{UUID: "usr_a", ContextMemoryCount: 100}}
	s := New(model, mem, 100, 20)

	require.NoError(t, s.MaybeCompact(context.Background(), "usr_a"))
	assert.Zero(t, model.calls)
	assert.Zero(t, mem.replaceCalls)
}

func TestMaybeCompactFoldsOldEntries(t *testing.T) {
	model := &blockingModel{reply: "她喜欢聊音乐，最近在准备考试。"}
	mem := &memStub{
		user:    &domain.User{UUID: "usr_a", ContextMemoryCount: 101, ContextSummary: "老摘要"},
		entries: makeEntries(101),
	}
	s := New(model, mem, 100, 20)

	require.NoError(t, s.MaybeCompact(context.Background(), "usr_a"))

	assert.Equal(t, "她喜欢聊音乐，最近在准备考试。", mem.savedSummary)
	assert.Equal(t, 20, mem.savedWindow)
	assert.Contains(t, model.seen, "老摘要")
	assert.Contains(t, model.seen, "第0句", "oldest entry feeds the summary")
	assert.Contains(t, model.seen, "第80句", "last folded entry feeds the summary")
	assert.NotContains(t, model.seen, "第81句", "kept entries stay out of the summary")
}

func TestMaybeCompactCoalescesConcurrentRuns(t *testing.T) {
	model := &blockingModel{reply: "摘要", gate: make(chan struct{})}
	mem := &memStub{
		user:    &domain.User{UUID: "usr_a", ContextMemoryCount: 150},
		entries: makeEntries(150),
	}
	s := New(model, mem, 100, 20)

	done := make(chan error, 1)
	go func() { done <- s.MaybeCompact(context.Background(), "usr_a") }()

	// Wait for the first run to reach the model, then race a second one.
	require.Eventually(t, func() bool {
		model.mu.Lock()
		defer model.mu.Unlock()
		return model.calls == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.MaybeCompact(context.Background(), "usr_a"))
	model.mu.Lock()
	assert.Equal(t, 1, model.calls, "second run coalesces into the first")
	model.mu.Unlock()

	close(model.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, mem.replaceCalls)
}

func TestMaybeCompactEmptySummaryKeepsOld(t *testing.T) {
	model := &blockingModel{reply: "   \n"}
	mem := &memStub{
		user:    &domain.User{UUID: "usr_a", ContextMemoryCount: 101, ContextSummary: "老摘要"},
		entries: makeEntries(101),
	}
	s := New(model, mem, 100, 20)

	require.NoError(t, s.MaybeCompact(context.Background(), "usr_a"))
	assert.Zero(t, mem.replaceCalls)
}
