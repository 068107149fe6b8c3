// Package plan decides the shape of the upcoming reply before the main
// generator runs: how intense the reply should be and whether singing is part
// of it.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocagent/vocagent/music"
	"github.com/vocagent/vocagent/shared/jsonutil"
	"github.com/vocagent/vocagent/shared/llm"
)

// Intensity selects the reply register.
type Intensity string

const (
	IntensityNormal  Intensity = "normal"
	IntensitySerious Intensity = "serious"
)

// SingAction is what the reply does about singing.
type SingAction string

const (
	SingNone    SingAction = "none"
	SingPropose SingAction = "propose"
	SingPerform SingAction = "perform"
)

// Step is the resolved plan handed to the main generator.
type Step struct {
	Intensity  Intensity
	SingAction SingAction
	Song       string
	Segment    string
	// Lyrics are the chosen segment's lines, resolved from the catalog at plan
	// time so the generator never invents them.
	Lyrics []string
}

// Render describes the plan in Chinese for the generator prompt.
func (s *Step) Render() string {
	var b strings.Builder
	switch s.Intensity {
	case IntensitySerious:
		b.WriteString("这次回复要认真、共情，可以长一些。")
	default:
		b.WriteString("这次回复轻松简短，像日常闲聊。")
	}
	switch s.SingAction {
	case SingPropose:
		fmt.Fprintf(&b, "可以向用户提议唱《%s》，但先不要唱。", s.Song)
	case SingPerform:
		fmt.Fprintf(&b, "回复中要演唱《%s》的「%s」，歌词：\n%s", s.Song, s.Segment, strings.Join(s.Lyrics, "\n"))
	}
	return b.String()
}

const planPrompt = `你在为洛天依规划下一条回复。根据用户输入、最近的对话和检索到的背景知识，决定回复的基调，以及是否需要唱歌。

可演唱的歌曲：
%s

背景知识：
%s

最近的对话：
%s

用户输入：%s

只输出一个JSON对象：
{"reply_intensity":"normal或serious","singing_action":"none或propose或perform","song":"歌名，没有则为空","segment":"唱段名，没有则为空"}

用户明确要求唱歌且歌曲可演唱时选 perform；聊到某首歌但用户没要求唱时可选 propose；其余选 none。`

type rawStep struct {
	ReplyIntensity string `json:"reply_intensity"`
	SingingAction  string `json:"singing_action"`
	Song           string `json:"song"`
	Segment        string `json:"segment"`
}

type Planner struct {
	model   llm.ChatModel
	catalog *music.Catalog
}

func New(model llm.ChatModel, catalog *music.Catalog) *Planner {
	return &Planner{model: model, catalog: catalog}
}

// Run produces the plan for one turn. Model output that names a song the
// catalog does not carry degrades the sing action rather than failing the
// turn.
func (p *Planner) Run(ctx context.Context, input, history string, knowledge []string) (*Step, error) {
	prompt := fmt.Sprintf(planPrompt,
		strings.Join(p.catalog.Titles(), "、"),
		orPlaceholder(strings.Join(knowledge, "\n")),
		orPlaceholder(history),
		input,
	)
	out, err := p.model.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, llm.CompleteOptions{JSONOnly: true})
	if err != nil {
		return nil, fmt.Errorf("plan reply: %w", err)
	}

	var raw rawStep
	if err := jsonutil.UnmarshalObject(out, &raw); err != nil {
		slog.WarnContext(ctx, "unparseable reply plan, using defaults", "error", err)
		return &Step{Intensity: IntensityNormal, SingAction: SingNone}, nil
	}
	return p.resolve(ctx, &raw), nil
}

func (p *Planner) resolve(ctx context.Context, raw *rawStep) *Step {
	step := &Step{Intensity: IntensityNormal, SingAction: SingNone}
	if raw.ReplyIntensity == string(IntensitySerious) {
		step.Intensity = IntensitySerious
	}

	switch SingAction(raw.SingingAction) {
	case SingPropose:
		song, ok := p.catalog.Find(raw.Song)
		if !ok {
			slog.WarnContext(ctx, "planned song not in catalog", "song", raw.Song)
			return step
		}
		step.SingAction = SingPropose
		step.Song = song.Title

	case SingPerform:
		song, ok := p.catalog.Find(raw.Song)
		if !ok {
			slog.WarnContext(ctx, "planned song not in catalog", "song", raw.Song)
			return step
		}
		seg, ok := song.FindSegment(raw.Segment)
		if !ok {
			if len(song.Segments) == 0 {
				slog.WarnContext(ctx, "planned song has no segments", "song", song.Title)
				return step
			}
			seg = &song.Segments[0]
		}
		step.SingAction = SingPerform
		step.Song = song.Title
		step.Segment = seg.Description
		for _, line := range seg.Lyrics {
			step.Lyrics = append(step.Lyrics, line.Content)
		}
	}
	return step
}

func orPlaceholder(s string) string {
	if s == "" {
		return "（无）"
	}
	return s
}
