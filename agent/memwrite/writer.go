// Package memwrite extracts memory commands from the just-completed turn and
// applies them through the memory facade. All durable writes join the
// orchestrator's transaction; the writer itself never commits.
package memwrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/llm"
)

const writePrompt = `你负责维护洛天依对用户的长期记忆。阅读本轮对话，决定需要新增或修改哪些记忆。

最近的对话：
%s

用户输入：%s

洛天依的回复：
%s

本轮检索用到的记忆编号：
%s

最近的记忆更新：
%s

每行输出一条命令，可用的命令：
v_add(document=要记住的内容)
v_update(uuid=记忆编号或其前缀, new_document=修改后的内容)
update_username(new_name=用户希望被称呼的名字)

没有需要更新的记忆时输出空行。命令结束后输出 ## 结尾。`

// Facade is the slice of the memory facade the writer dispatches to.
type Facade interface {
	AddMemoryFragment(ctx context.Context, userID, content string) (string, error)
	UpdateMemoryFragment(ctx context.Context, userID, memID, content string) error
	UpdateNickname(ctx context.Context, userID, nickname string) error
	RecordMemoryUpdate(ctx context.Context, userID string, cmd *domain.MemoryUpdateCommand) error
}

type Writer struct {
	model llm.ChatModel
	mem   Facade
}

func New(model llm.ChatModel, mem Facade) *Writer {
	return &Writer{model: model, mem: mem}
}

// Input carries everything the writer needs from the turn.
type Input struct {
	UserInput    string
	AgentReplies []string
	History      string
	// UsedIDs are the vector ids touched by this turn's retrieval.
	UsedIDs []string
	// Recent are the cached recent update commands; their targets extend the
	// id-resolution space.
	Recent []*domain.MemoryUpdateCommand
}

// Run asks the model for memory commands and applies them. Unresolvable or
// malformed commands are logged and skipped; the remaining commands still
// apply.
func (w *Writer) Run(ctx context.Context, userID string, in Input) error {
	prompt := fmt.Sprintf(writePrompt,
		in.History,
		in.UserInput,
		strings.Join(in.AgentReplies, "\n"),
		strings.Join(in.UsedIDs, "\n"),
		renderRecent(in.Recent),
	)

	raw, err := w.model.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, llm.CompleteOptions{})
	if err != nil {
		return fmt.Errorf("extract memory commands: %w", err)
	}

	candidates := append([]string(nil), in.UsedIDs...)
	for _, cmd := range in.Recent {
		if cmd.TargetID != "" {
			candidates = append(candidates, cmd.TargetID)
		}
	}

	for _, cmd := range parseCommands(raw) {
		if err := w.apply(ctx, userID, cmd, candidates); err != nil {
			slog.WarnContext(ctx, "memory command skipped", "func", cmd.Func, "error", err)
		}
	}
	return nil
}

// apply dispatches a command by function-name substring, matching add, then
// username, then update.
func (w *Writer) apply(ctx context.Context, userID string, cmd Command, candidates []string) error {
	name := strings.ToLower(cmd.Func)
	switch {
	case strings.Contains(name, "add"):
		doc := cmd.Args["document"]
		if doc == "" {
			return fmt.Errorf("empty document")
		}
		_, err := w.mem.AddMemoryFragment(ctx, userID, doc)
		return err

	case strings.Contains(name, "username"):
		newName := cmd.Args["new_name"]
		if newName == "" {
			return fmt.Errorf("empty new_name")
		}
		if err := w.mem.UpdateNickname(ctx, userID, newName); err != nil {
			return err
		}
		return w.mem.RecordMemoryUpdate(ctx, userID, &domain.MemoryUpdateCommand{
			Kind:    domain.CommandRenameUser,
			Content: newName,
		})

	case strings.Contains(name, "update"):
		doc := cmd.Args["new_document"]
		if doc == "" {
			return fmt.Errorf("empty new_document")
		}
		memID := resolveID(cmd.Args["uuid"], candidates)
		if memID == "" {
			return fmt.Errorf("unresolvable memory id %q", cmd.Args["uuid"])
		}
		return w.mem.UpdateMemoryFragment(ctx, userID, memID, doc)

	default:
		return fmt.Errorf("unknown command")
	}
}

func renderRecent(cmds []*domain.MemoryUpdateCommand) string {
	if len(cmds) == 0 {
		return "（无）"
	}
	var b strings.Builder
	for _, cmd := range cmds {
		fmt.Fprintf(&b, "%s %s %s\n", cmd.Kind, cmd.TargetID, cmd.Content)
	}
	return b.String()
}
