package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocagent/vocagent/api/domain"
)

type scriptedSearcher struct {
	hits []*domain.MemoryHit
	err  error
}

func (s *scriptedSearcher) VectorSearch(_ context.Context, _, _ string, _ int) ([]*domain.MemoryHit, error) {
	return s.hits, s.err
}

func TestDispatchUnknownToolSkips(t *testing.T) {
	r := NewRegistry()
	out, ok := r.Dispatch(context.Background(), Call{ToolName: "nope"}, nil)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestDispatchMissingInjectedKeySkips(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:     "needs_ctx",
		Injected: []string{KeyUserID},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			t.Fatal("must not run")
			return nil, nil
		},
	})

	_, ok := r.Dispatch(context.Background(), Call{ToolName: "needs_ctx"}, map[string]any{})
	assert.False(t, ok)
}

func TestDispatchToolErrorSkips(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name: "boom",
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			return nil, errors.New("boom")
		},
	})

	_, ok := r.Dispatch(context.Background(), Call{ToolName: "boom"}, nil)
	assert.False(t, ok)
}

func TestDispatchMergesModelAndInjectedArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:     "echo",
		Injected: []string{KeyUserID},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			return []string{args["q"].(string) + "/" + args[KeyUserID].(string)}, nil
		},
	})

	out, ok := r.Dispatch(context.Background(),
		Call{ToolName: "echo", Parameters: map[string]any{"q": "hi"}},
		map[string]any{KeyUserID: "usr_a"})
	require.True(t, ok)
	assert.Equal(t, []string{"hi/usr_a"}, out)
}

func TestInheritMemory(t *testing.T) {
	tool := InheritMemory()
	out, err := tool.Exec(context.Background(), map[string]any{
		"content_ids":  []any{float64(0), float64(2), float64(9)},
		KeyLastResults: []string{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, out)
}

func TestMemorySearchCutoffAndUsedIDs(t *testing.T) {
	now := time.Now()
	searcher := &scriptedSearcher{hits: []*domain.MemoryHit{
		{UUID: "mem_1", Content: "她养了一只猫", CreatedAt: now.Add(-2 * time.Hour), Score: 0.9},
		{UUID: "mem_2", Content: "她在学钢琴", CreatedAt: now, Score: 0.3},
		{UUID: "mem_3", Content: "她喜欢下雨天", CreatedAt: now, Score: 0.7},
	}}
	tool := MemorySearch(searcher, DefaultSimilarityCutoff, 5)

	used := NewUsedSet([]string{"mem_3"})
	out, err := tool.Exec(context.Background(), map[string]any{
		"query":    "宠物",
		KeyUserID:  "usr_a",
		KeyUsedIDs: used,
	})
	require.NoError(t, err)
	require.Len(t, out, 1, "low-score and already-used hits are dropped")
	assert.Contains(t, out[0], "她养了一只猫")
	assert.Contains(t, out[0], "小时前")

	assert.Equal(t, []string{"mem_3", "mem_1"}, used.IDs())
}

func TestMemorySearchNeverRepeatsWithinTurn(t *testing.T) {
	now := time.Now()
	searcher := &scriptedSearcher{hits: []*domain.MemoryHit{
		{UUID: "mem_1", Content: "x", CreatedAt: now, Score: 0.9},
	}}
	tool := MemorySearch(searcher, DefaultSimilarityCutoff, 5)
	used := NewUsedSet(nil)
	args := map[string]any{"query": "q", KeyUserID: "usr_a", KeyUsedIDs: used}

	out, err := tool.Exec(context.Background(), args)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = tool.Exec(context.Background(), args)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCatalogRendersToolNames(t *testing.T) {
	r := NewRegistry()
	r.Register(InheritMemory())
	r.Register(MemorySearch(&scriptedSearcher{}, DefaultSimilarityCutoff, 5))

	cat := r.Catalog()
	assert.Contains(t, cat, "inherit_memory(content_ids: list<int>)")
	assert.Contains(t, cat, "memory_search(query: string)")
}
