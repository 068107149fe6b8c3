package plan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocagent/vocagent/music"
	"github.com/vocagent/vocagent/shared/llm"
)

type scriptedModel struct {
	reply string
	err   error
	seen  string
}

func (m *scriptedModel) Complete(_ context.Context, msgs []openai.ChatCompletionMessage, _ llm.CompleteOptions) (string, error) {
	m.seen = msgs[0].Content
	return m.reply, m.err
}

func testCatalog(t *testing.T) *music.Catalog {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "songs", "guang_yu_ying")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	song := map[string]any{
		"title":       "光与影的对白",
		"description": "一首关于光影的歌",
		"segments": []map[string]any{
			{
				"description": "段落1",
				"start_time":  10.0,
				"end_time":    40.0,
				"lyrics": []map[string]any{
					{"duration": 3.2, "content": "穿过黑夜的光芒照亮我"},
					{"duration": 2.8, "content": "与影子的对白在回响"},
				},
			},
		},
	}
	data, err := json.Marshal(song)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guang_yu_ying.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guang_yu_ying.mp3"), []byte("audio"), 0o644))

	c, err := music.Load(root)
	require.NoError(t, err)
	return c
}

func TestRunPerformResolvesLyrics(t *testing.T) {
	model := &scriptedModel{reply: `{"reply_intensity":"normal","singing_action":"perform","song":"光与影的对白","segment":"段落1"}`}
	p := New(model, testCatalog(t))

	step, err := p.Run(context.Background(), "给我唱首歌吧", "", nil)
	require.NoError(t, err)
	assert.Equal(t, SingPerform, step.SingAction)
	assert.Equal(t, "光与影的对白", step.Song)
	assert.Equal(t, "段落1", step.Segment)
	assert.Equal(t, []string{"穿过黑夜的光芒照亮我", "与影子的对白在回响"}, step.Lyrics)
	assert.Contains(t, model.seen, "光与影的对白", "catalog titles feed the prompt")
}

func TestRunUnknownSongDegradesToNoSing(t *testing.T) {
	model := &scriptedModel{reply: `{"reply_intensity":"serious","singing_action":"perform","song":"不存在的歌","segment":""}`}
	p := New(model, testCatalog(t))

	step, err := p.Run(context.Background(), "唱歌", "", nil)
	require.NoError(t, err)
	assert.Equal(t, SingNone, step.SingAction)
	assert.Equal(t, IntensitySerious, step.Intensity)
}

func TestRunUnknownSegmentFallsBackToFirst(t *testing.T) {
	model := &scriptedModel{reply: `{"reply_intensity":"normal","singing_action":"perform","song":"光与影","segment":"不存在的段落"}`}
	p := New(model, testCatalog(t))

	step, err := p.Run(context.Background(), "唱歌", "", nil)
	require.NoError(t, err)
	assert.Equal(t, SingPerform, step.SingAction)
	assert.Equal(t, "段落1", step.Segment)
}

func TestRunMalformedPlanDefaults(t *testing.T) {
	model := &scriptedModel{reply: "今天不想输出JSON"}
	p := New(model, testCatalog(t))

	step, err := p.Run(context.Background(), "你好", "", nil)
	require.NoError(t, err)
	assert.Equal(t, IntensityNormal, step.Intensity)
	assert.Equal(t, SingNone, step.SingAction)
}

func TestStepRender(t *testing.T) {
	perform := &Step{
		Intensity:  IntensityNormal,
		SingAction: SingPerform,
		Song:       "光与影的对白",
		Segment:    "段落1",
		Lyrics:     []string{"穿过黑夜的光芒照亮我"},
	}
	out := perform.Render()
	assert.Contains(t, out, "《光与影的对白》")
	assert.Contains(t, out, "穿过黑夜的光芒照亮我")

	propose := &Step{Intensity: IntensitySerious, SingAction: SingPropose, Song: "光与影的对白"}
	out = propose.Render()
	assert.Contains(t, out, "提议")
	assert.Contains(t, out, "认真")
}
