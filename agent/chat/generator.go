// Package chat runs the main character generator: given the planned intent
// and the turn's context it produces the ordered list of reply items the
// streamer will deliver.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocagent/vocagent/agent/plan"
	"github.com/vocagent/vocagent/shared/jsonutil"
	"github.com/vocagent/vocagent/shared/llm"
)

const (
	ItemSay  = "say"
	ItemSing = "sing"

	// DefaultTone is substituted when the model omits or invents a tone.
	DefaultTone = "normal"
)

// SayParams is one spoken reply fragment.
type SayParams struct {
	Content    string `json:"content"`
	Expression string `json:"expression"`
	Tone       string `json:"tone"`
}

// SingParams names a catalog song and segment to perform.
type SingParams struct {
	SongName string `json:"song_name"`
	Segment  string `json:"segment"`
}

// Item is one element of the reply, either a say or a sing.
type Item struct {
	Type string
	Say  *SayParams
	Sing *SingParams
}

const personaPrompt = `你是虚拟歌手洛天依，15岁，灰发绿瞳，元气直率又有点贪吃。你在和用户「%s」私聊。用对话体中文回复，口吻符合洛天依的人设，不要提到自己是程序或模型。

%s

背景知识：
%s

最近的对话：
%s

允许的表情：%s
允许的语气：%s

用户说：%s

只输出一个JSON对象，格式：
{"response":[{"type":"say","parameters":{"content":"...","expression":"...","tone":"..."}}%s]}
response 数组按顺序就是这次的完整回复。expression 和 tone 必须取自允许的集合。`

const singSchemaHint = `,{"type":"sing","parameters":{"song_name":"...","segment":"..."}}`

// Generator turns a planning step into reply items.
type Generator struct {
	model       llm.ChatModel
	expressions []string
	tones       []string
}

func New(model llm.ChatModel, expressions, tones []string) *Generator {
	return &Generator{model: model, expressions: expressions, tones: tones}
}

// Input is everything the generator sees for one turn.
type Input struct {
	UserInput string
	History   string
	Knowledge []string
	Nickname  string
	Plan      *plan.Step
}

type rawItem struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
}

type rawResponse struct {
	Response []rawItem `json:"response"`
}

// Run produces the ordered reply items. Sing items are dropped unless the
// plan asked for a performance; invalid expressions and tones are coerced to
// the allowed sets.
func (g *Generator) Run(ctx context.Context, in Input) ([]*Item, error) {
	singHint := ""
	if in.Plan.SingAction == plan.SingPerform {
		singHint = singSchemaHint
	}
	prompt := fmt.Sprintf(personaPrompt,
		in.Nickname,
		in.Plan.Render(),
		orPlaceholder(strings.Join(in.Knowledge, "\n")),
		orPlaceholder(in.History),
		strings.Join(g.expressions, "、"),
		strings.Join(g.tones, "、"),
		in.UserInput,
		singHint,
	)

	raw, err := g.model.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, llm.CompleteOptions{JSONOnly: true})
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	var resp rawResponse
	if err := jsonutil.UnmarshalObject(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	if len(resp.Response) == 0 {
		return nil, fmt.Errorf("parse reply: empty response list")
	}

	var items []*Item
	for _, ri := range resp.Response {
		switch ri.Type {
		case ItemSay:
			var say SayParams
			if err := json.Unmarshal(ri.Parameters, &say); err != nil || say.Content == "" {
				slog.WarnContext(ctx, "malformed say item dropped", "error", err)
				continue
			}
			say.Expression = coerce(ctx, "expression", say.Expression, g.expressions)
			if say.Tone == "" {
				say.Tone = DefaultTone
			}
			say.Tone = coerce(ctx, "tone", say.Tone, g.tones)
			items = append(items, &Item{Type: ItemSay, Say: &say})

		case ItemSing:
			if in.Plan.SingAction != plan.SingPerform {
				slog.WarnContext(ctx, "unplanned sing item dropped")
				continue
			}
			var sing SingParams
			if err := json.Unmarshal(ri.Parameters, &sing); err != nil || sing.SongName == "" {
				slog.WarnContext(ctx, "malformed sing item dropped", "error", err)
				continue
			}
			items = append(items, &Item{Type: ItemSing, Sing: &sing})

		default:
			slog.WarnContext(ctx, "unknown reply item dropped", "type", ri.Type)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("parse reply: no usable items")
	}
	return items, nil
}

// coerce returns value when allowed, otherwise the set's first element.
func coerce(ctx context.Context, field, value string, allowed []string) string {
	for _, a := range allowed {
		if a == value {
			return value
		}
	}
	if len(allowed) == 0 {
		return value
	}
	slog.WarnContext(ctx, "value outside allowed set", "field", field, "value", value)
	return allowed[0]
}

func orPlaceholder(s string) string {
	if s == "" {
		return "（无）"
	}
	return s
}
