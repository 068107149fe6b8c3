package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocagent/vocagent/api/cache"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/store"
)

// fakeIndex is an in-memory stand-in for the pgvector index.
type fakeIndex struct {
	mu      sync.Mutex
	next    int
	records map[string]string
	hits    []*domain.MemoryHit
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
	return fi.hits, nil
}

func setupFacade(t *testing.T) (*Facade, *store.Store, *fakeIndex) {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	s.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	fi := newFakeIndex()
	return New(s, c, fi), s, fi
}

func createUser(t *testing.T, s *store.Store, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestReadContextEmptyUser(t *testing.T) {
	f, s, _ := setupFacade(t)
	u := createUser(t, s, "alice")

	summary, entries, err := f.ReadContext(context.Background(), u.UUID)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Empty(t, entries)
}

func TestAppendThenReadContext(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	entries := []*domain.ConversationEntry{
		{Source: domain.SourceUser, Type: domain.ContentText, Content: "你好洛天依"},
		{Source: domain.SourceAgent, Type: domain.ContentText, Content: "你好呀"},
	}
	require.NoError(t, f.AppendConversations(ctx, u.UUID, entries))

	_, got, err := f.ReadContext(ctx, u.UUID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "你好洛天依", got[0].Content)
	assert.Equal(t, "你好呀", got[1].Content)

	user, err := s.GetUser(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, user.ContextMemoryCount)
}

func TestReadContextPrefillsAfterCacheLoss(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	require.NoError(t, f.AppendConversations(ctx, u.UUID, []*domain.ConversationEntry{
		{Source: domain.SourceUser, Type: domain.ContentText, Content: "第一句"},
	}))

	// Simulate cache eviction: read must rebuild from the durable log.
	fresh, _, _ := setupFacadeSharedStore(t, s)
	_, entries, err := fresh.ReadContext(ctx, u.UUID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "第一句", entries[0].Content)
}

// setupFacadeSharedStore builds a facade over an existing store with an empty
// cache.
func setupFacadeSharedStore(t *testing.T, s *store.Store) (*Facade, *cache.Cache, *fakeIndex) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	fi := newFakeIndex()
	return New(s, c, fi), c, fi
}

func TestKnowledgeBufferRoundTrip(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	items := []string{"洛天依喜欢包子", "她想去看雪"}
	require.NoError(t, f.ReplaceKnowledgeBuffer(ctx, u.UUID, items))

	got, err := f.ReadKnowledgeBuffer(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestNicknameRoundTrip(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	name, err := f.ReadNickname(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultNickname, name)

	require.NoError(t, f.UpdateNickname(ctx, u.UUID, "小A"))
	name, err = f.ReadNickname(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, "小A", name)
}

func TestReplaceSummaryTrimsWindow(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	var entries []*domain.ConversationEntry
	for i := 0; i < 30; i++ {
		entries = append(entries, &domain.ConversationEntry{
			Source: domain.SourceUser, Type: domain.ContentText, Content: fmt.Sprintf("第%d句", i),
		})
	}
	require.NoError(t, f.AppendConversations(ctx, u.UUID, entries))

	require.NoError(t, f.ReplaceSummary(ctx, u.UUID, "总结文本", 20))

	summary, got, err := f.ReadContext(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, "总结文本", summary)
	require.Len(t, got, 20)
	assert.Equal(t, "第10句", got[0].Content)

	user, err := s.GetUser(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, 20, user.ContextMemoryCount)
	assert.Equal(t, "总结文本", user.ContextSummary)
}

func TestMemoryFragmentsRecordCommands(t *testing.T) {
	f, s, fi := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	memID, err := f.AddMemoryFragment(ctx, u.UUID, "她养了一只猫")
	require.NoError(t, err)
	assert.Equal(t, "她养了一只猫", fi.records[memID])

	require.NoError(t, f.UpdateMemoryFragment(ctx, u.UUID, memID, "她养了两只猫"))
	assert.Equal(t, "她养了两只猫", fi.records[memID])

	cmds, err := f.ReadRecentUpdates(ctx, u.UUID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, domain.CommandAdd, cmds[0].Kind)
	assert.Equal(t, domain.CommandUpdate, cmds[1].Kind)
	assert.Equal(t, memID, cmds[1].TargetID)
}

func TestUsedIDs(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	ids, err := f.ReadUsedIDs(ctx, u.UUID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, f.ReplaceUsedIDs(ctx, u.UUID, []string{"mem_1", "mem_2"}))
	ids, err = f.ReadUsedIDs(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_1", "mem_2"}, ids)
}

func TestConcurrentAppendsKeepOrderInDurableLog(t *testing.T) {
	f, s, _ := setupFacade(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	require.NoError(t, f.AppendConversations(ctx, u.UUID, []*domain.ConversationEntry{
		{Source: domain.SourceUser, Type: domain.ContentText, Content: "seed"},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = f.AppendConversations(ctx, u.UUID, []*domain.ConversationEntry{
				{Source: domain.SourceUser, Type: domain.ContentText, Content: fmt.Sprintf("并发%d", i)},
			})
		}(i)
	}
	wg.Wait()

	n, err := s.CountConversations(ctx, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, entries, err := f.ReadContext(ctx, u.UUID)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "cached context must contain both concurrent appends")
}
