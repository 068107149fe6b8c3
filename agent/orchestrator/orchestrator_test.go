package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocagent/vocagent/agent/chat"
	"github.com/vocagent/vocagent/agent/memwrite"
	"github.com/vocagent/vocagent/agent/plan"
	"github.com/vocagent/vocagent/agent/search"
	"github.com/vocagent/vocagent/agent/stream"
	"github.com/vocagent/vocagent/agent/summary"
	"github.com/vocagent/vocagent/agent/tools"
	"github.com/vocagent/vocagent/api/cache"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/memory"
	"github.com/vocagent/vocagent/api/store"
	"github.com/vocagent/vocagent/music"
	"github.com/vocagent/vocagent/shared/llm"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *scriptedModel) Complete(_ context.Context, _ []openai.ChatCompletionMessage, _ llm.CompleteOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	m.calls++
	return reply, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	next    int
	records map[string]string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: map[string]string{}}
}

func (fi *fakeIndex) Add(_ context.Context, _, content string) (string, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.next++
	id := fmt.Sprintf("mem_fake%d", fi.next)
	fi.records[id] = content
	return id, nil
}

func (fi *fakeIndex) Update(_ context.Context, _, memID, content string) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if _, ok := fi.records[memID]; !ok {
		return domain.ErrNotFound
	}
	fi.records[memID] = content
	return nil
}

func (fi *fakeIndex) Delete(_ context.Context, _, memID string) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	delete(fi.records, memID)
	return nil
}

func (fi *fakeIndex) Search(_ context.Context, _, _ string, _ int) ([]*domain.MemoryHit, error) {
	return nil, nil
}

type fakeTTS struct{}

func (fakeTTS) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	return []byte("voice:" + text), nil
}

func testCatalog(t *testing.T) *music.Catalog {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "songs", "guang_yu_ying")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	song := map[string]any{
		"title":       "光与影的对白",
		"description": "一首关于光影的歌",
		"segments": []map[string]any{{
			"description": "段落1",
			"start_time":  10.0,
			"end_time":    40.0,
			"lyrics":      []map[string]any{{"duration": 3.0, "content": "穿过黑夜的光芒照亮我"}},
		}},
	}
	data, err := json.Marshal(song)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guang_yu_ying.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guang_yu_ying.mp3"), []byte("song-audio"), 0o644))
	c, err := music.Load(root)
	require.NoError(t, err)
	return c
}

type fixture struct {
	orch *Orchestrator
	mem  *memory.Facade
	user *domain.User
}

// newFixture wires a full orchestrator over an in-memory store, miniredis and
// scripted models: one model per stage, in pipeline order.
func newFixture(t *testing.T, retrievalReply, planReply, generateReply, memwriteReply string) *fixture {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	s.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	fi := newFakeIndex()
	mem := memory.New(s, c, fi)

	user := &domain.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), user))

	catalog := testCatalog(t)
	reg := tools.NewRegistry()
	reg.Register(tools.CanISing(catalog))

	bgMem := mem.WithStore(s)
	orch := New(Config{
		Mem:           mem,
		BackgroundMem: bgMem,
		Retriever:     search.New(&scriptedModel{replies: []string{retrievalReply}}, reg, mem),
		Planner:       plan.New(&scriptedModel{replies: []string{planReply}}, catalog),
		Generator:     chat.New(&scriptedModel{replies: []string{generateReply}}, []string{"微笑", "开心"}, []string{"normal", "happy"}),
		Streamer:      stream.New(fakeTTS{}, catalog),
		Writer:        memwrite.New(&scriptedModel{replies: []string{memwriteReply}}, bgMem),
		Summarizer:    summary.New(&scriptedModel{replies: []string{"摘要"}}, bgMem, 100, 20),
	})
	return &fixture{orch: orch, mem: mem, user: user}
}

func runTurn(t *testing.T, fx *fixture, turn Turn) []*stream.Frame {
	t.Helper()
	out := make(chan *stream.Frame, 64)
	require.NoError(t, fx.orch.Run(context.Background(), turn, out))
	close(out)
	var frames []*stream.Frame
	for f := range out {
		frames = append(frames, f)
	}
	return frames
}

func TestRunTextTurnStreamsAndPersists(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[]}`,
		`{"reply_intensity":"normal","singing_action":"none","song":"","segment":""}`,
		`{"response":[{"type":"say","parameters":{"content":"今天也要元气满满哦！","expression":"开心","tone":"happy"}}]}`,
		"\n##",
	)

	frames := runTurn(t, fx, Turn{UserID: fx.user.UUID, Text: "早上好"})
	require.Len(t, frames, 1)
	assert.Equal(t, "今天也要元气满满哦！", frames[0].Text)
	assert.True(t, frames[0].IsFinalPackage)

	// Both the user entry and the agent entry are durable when Run returns.
	entries, err := fx.mem.TailConversations(context.Background(), fx.user.UUID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.SourceUser, entries[0].Source)
	assert.Equal(t, "早上好", entries[0].Content)
	assert.Equal(t, domain.SourceAgent, entries[1].Source)
	assert.Equal(t, "今天也要元气满满哦！", entries[1].Content)

	user, err := fx.mem.ReadUser(context.Background(), fx.user.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, user.ContextMemoryCount)
}

func TestRunSingTurn(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[{"tool_name":"can_i_sing_song","parameters":{"song_name":"光与影的对白"}}]}`,
		`{"reply_intensity":"normal","singing_action":"perform","song":"光与影的对白","segment":"段落1"}`,
		`{"response":[
			{"type":"say","parameters":{"content":"那我唱一段给你听哦！","expression":"开心","tone":"happy"}},
			{"type":"sing","parameters":{"song_name":"光与影的对白","segment":"段落1"}}
		]}`,
		"\n##",
	)

	frames := runTurn(t, fx, Turn{UserID: fx.user.UUID, Text: "给我唱光与影的对白"})
	require.Len(t, frames, 2)

	sing := frames[1]
	require.NotNil(t, sing.Expression)
	assert.Equal(t, stream.SingExpression, *sing.Expression)
	assert.Contains(t, sing.Text, "（唱歌）：《光与影的对白》\n")
	assert.True(t, sing.IsFinalPackage)

	entries, err := fx.mem.TailConversations(context.Background(), fx.user.UUID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ContentSing, entries[2].Type)
	assert.Equal(t, "光与影的对白", entries[2].AuxData["song_name"])
}

func TestRunMemoryWriteRecordsCommand(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[]}`,
		`{"reply_intensity":"normal","singing_action":"none","song":"","segment":""}`,
		`{"response":[{"type":"say","parameters":{"content":"记住啦！","expression":"微笑","tone":"normal"}}]}`,
		"v_add(document=她养了一只叫年糕的猫)\n##",
	)

	runTurn(t, fx, Turn{UserID: fx.user.UUID, Text: "我养了一只猫，叫年糕"})

	recent, err := fx.mem.ReadRecentUpdates(context.Background(), fx.user.UUID)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.CommandAdd, recent[0].Kind)
	assert.Equal(t, "她养了一只叫年糕的猫", recent[0].Content)
}

func TestRunGeneratorFailureLeavesNoAgentEntry(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[]}`,
		`{"reply_intensity":"normal","singing_action":"none","song":"","segment":""}`,
		"彻底不是JSON",
		"\n##",
	)

	out := make(chan *stream.Frame, 8)
	err := fx.orch.Run(context.Background(), Turn{UserID: fx.user.UUID, Text: "你好"}, out)
	require.Error(t, err)

	entries, listErr := fx.mem.TailConversations(context.Background(), fx.user.UUID, 10)
	require.NoError(t, listErr)
	require.Len(t, entries, 1, "only the user entry survives a failed turn")
	assert.Equal(t, domain.SourceUser, entries[0].Source)
}

type failingModel struct{}

func (failingModel) Complete(_ context.Context, _ []openai.ChatCompletionMessage, _ llm.CompleteOptions) (string, error) {
	return "", fmt.Errorf("chat completion: %w", domain.ErrUpstream)
}

func TestRunRolledBackWriteDropsCachedReply(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[]}`,
		`{"reply_intensity":"normal","singing_action":"none","song":"","segment":""}`,
		`{"response":[{"type":"say","parameters":{"content":"这句不会入库","expression":"微笑","tone":"normal"}}]}`,
		"\n##",
	)
	fx.orch.writer = memwrite.New(failingModel{}, fx.mem)

	frames := runTurn(t, fx, Turn{UserID: fx.user.UUID, Text: "你好"})
	require.NotEmpty(t, frames)

	// The background transaction rolled back: only the user entry is durable.
	entries, err := fx.mem.TailConversations(context.Background(), fx.user.UUID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SourceUser, entries[0].Source)

	// The cached context must agree with the durable log; the rolled-back
	// reply must not survive in the cache until its TTL clears.
	_, cached, err := fx.mem.ReadContext(context.Background(), fx.user.UUID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "你好", cached[0].Content)
}

func TestRunSerializesTurnsPerUser(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[]}`,
		`{"reply_intensity":"normal","singing_action":"none","song":"","segment":""}`,
		`{"response":[{"type":"say","parameters":{"content":"收到收到！","expression":"微笑","tone":"normal"}}]}`,
		"\n##",
	)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out := make(chan *stream.Frame, 64)
			err := fx.orch.Run(context.Background(), Turn{
				UserID: fx.user.UUID, Text: fmt.Sprintf("第%d条", n),
			}, out)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := fx.mem.TailConversations(context.Background(), fx.user.UUID, 20)
	require.NoError(t, err)
	assert.Len(t, entries, 6, "three user entries and three agent entries")

	// Entries alternate user/agent because turns never interleave.
	for i := 0; i < len(entries); i += 2 {
		assert.Equal(t, domain.SourceUser, entries[i].Source)
		assert.Equal(t, domain.SourceAgent, entries[i+1].Source)
	}
}

type fakeIngester struct{}

func (fakeIngester) Ingest(_ context.Context, userID string, _ []byte, now time.Time) (string, string, error) {
	return filepath.Join("data", "images", userID, now.Format("2006-01-02_15-04-05")+".jpg"),
		"一只橘猫趴在窗台上", nil
}

func TestRunImageTurn(t *testing.T) {
	fx := newFixture(t,
		`{"tool_use":[]}`,
		`{"reply_intensity":"normal","singing_action":"none","song":"","segment":""}`,
		`{"response":[{"type":"say","parameters":{"content":"好可爱的猫猫！","expression":"开心","tone":"happy"}}]}`,
		"\n##",
	)
	fx.orch.images = fakeIngester{}

	frames := runTurn(t, fx, Turn{
		UserID:          fx.user.UUID,
		Image:           []byte("raw-image"),
		ImageClientPath: "C:/photos/cat.jpg",
	})
	require.NotEmpty(t, frames)

	entries, err := fx.mem.TailConversations(context.Background(), fx.user.UUID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	img := entries[0]
	assert.Equal(t, domain.ContentImage, img.Type)
	assert.Equal(t, ImagePrefix+"一只橘猫趴在窗台上", img.Content)
	assert.Equal(t, "C:/photos/cat.jpg", img.AuxData["client_path"])
	assert.NotEmpty(t, img.AuxData["server_path"])
}
