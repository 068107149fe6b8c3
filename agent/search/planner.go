// Package search turns the user's input into a plan of tool invocations,
// executes it and distills the results into this turn's knowledge buffer.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocagent/vocagent/agent/tools"
	"github.com/vocagent/vocagent/shared/jsonutil"
	"github.com/vocagent/vocagent/shared/llm"
)

// dedupePrefixLen is how many leading characters decide two snippets are the
// same result.
const dedupePrefixLen = 50

const planPrompt = `你是洛天依的检索助手。根据用户的最新输入和最近的对话，决定需要调用哪些工具来准备回复所需的背景知识。

可用工具：
%s

上一轮的检索结果（可用 inherit_memory 按编号保留）：
%s

最近的对话：
%s

用户输入：%s

只输出一个JSON对象，格式为 {"tool_use":[{"tool_name":"...","parameters":{...}}]}。不需要检索时输出 {"tool_use":[]}。`

// MemoryStore is the slice of the memory facade the planner persists through.
type MemoryStore interface {
	ReadKnowledgeBuffer(ctx context.Context, userID string) ([]string, error)
	ReplaceKnowledgeBuffer(ctx context.Context, userID string, items []string) error
	ReplaceUsedIDs(ctx context.Context, userID string, ids []string) error
}

type Planner struct {
	model llm.ChatModel
	reg   *tools.Registry
	mem   MemoryStore
}

func New(model llm.ChatModel, reg *tools.Registry, mem MemoryStore) *Planner {
	return &Planner{model: model, reg: reg, mem: mem}
}

// Result is the retrieval outcome for a turn.
type Result struct {
	Knowledge []string
	UsedIDs   []string
}

type plan struct {
	ToolUse []tools.Call `json:"tool_use"`
}

// Run plans, executes and persists retrieval for one turn. Malformed model
// output degrades to an empty plan; individual tool failures are skipped.
func (p *Planner) Run(ctx context.Context, userID, input, history string) (*Result, error) {
	lastResults, err := p.mem.ReadKnowledgeBuffer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read knowledge buffer: %w", err)
	}
	// The used-id set starts empty every turn; it only blocks repeats within
	// this turn's searches. Fragments from earlier turns stay searchable.
	used := tools.NewUsedSet(nil)

	prompt := fmt.Sprintf(planPrompt, p.reg.Catalog(), numbered(lastResults), history, input)
	raw, err := p.model.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, llm.CompleteOptions{JSONOnly: true})
	if err != nil {
		return nil, fmt.Errorf("plan retrieval: %w", err)
	}

	var pl plan
	if err := jsonutil.UnmarshalObject(raw, &pl); err != nil {
		slog.WarnContext(ctx, "unparseable retrieval plan, using empty plan", "error", err)
		pl.ToolUse = nil
	}

	injected := map[string]any{
		tools.KeyLastResults: lastResults,
		tools.KeyUserID:      userID,
		tools.KeyUsedIDs:     used,
	}

	var collected []string
	for _, call := range pl.ToolUse {
		out, ok := p.reg.Dispatch(ctx, call, injected)
		if !ok {
			continue
		}
		collected = append(collected, out...)
	}

	knowledge := dedupeByPrefix(collected, dedupePrefixLen)

	if err := p.mem.ReplaceKnowledgeBuffer(ctx, userID, knowledge); err != nil {
		return nil, fmt.Errorf("persist knowledge buffer: %w", err)
	}
	if err := p.mem.ReplaceUsedIDs(ctx, userID, used.IDs()); err != nil {
		return nil, fmt.Errorf("persist used ids: %w", err)
	}

	return &Result{Knowledge: knowledge, UsedIDs: used.IDs()}, nil
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "（无）"
	}
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i, item)
	}
	return b.String()
}

// dedupeByPrefix drops items whose trimmed n-character prefix was already
// seen, preserving order.
func dedupeByPrefix(items []string, n int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.TrimSpace(item)
		if runes := []rune(key); len(runes) > n {
			key = string(runes[:n])
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
