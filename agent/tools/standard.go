package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/music"
)

// Injected context keys. The dispatcher fills these; the model never does.
const (
	KeyLastResults = "last_search_results"
	KeyUserID      = "user_id"
	KeyUsedIDs     = "used_uuid"
)

// DefaultSimilarityCutoff is the minimum score memory_search accepts.
const DefaultSimilarityCutoff = 0.50

// UsedSet tracks the vector ids touched within the current turn so repeated
// memory_search calls never return the same fragment twice in one turn.
type UsedSet struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
}

func NewUsedSet(initial []string) *UsedSet {
	u := &UsedSet{seen: map[string]bool{}}
	for _, id := range initial {
		u.Add(id)
	}
	return u
}

func (u *UsedSet) Has(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.seen[id]
}

func (u *UsedSet) Add(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.seen[id] {
		u.seen[id] = true
		u.order = append(u.order, id)
	}
}

// IDs returns the ids in first-touched order.
func (u *UsedSet) IDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.order...)
}

// MemorySearcher is the slice of the memory facade memory_search needs.
type MemorySearcher interface {
	VectorSearch(ctx context.Context, userID, query string, k int) ([]*domain.MemoryHit, error)
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func argIntSlice(args map[string]any, key string) []int {
	raw, _ := args[key].([]any)
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}

// InheritMemory copies forward items from the previous retrieval snapshot by
// index.
func InheritMemory() *Tool {
	return &Tool{
		Name:        "inherit_memory",
		Description: "按编号保留上一轮检索结果中仍然有用的条目",
		Params: []Param{
			{Name: "content_ids", Type: "list<int>", Description: "要保留的条目编号，从0开始"},
		},
		Injected: []string{KeyLastResults},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			last, _ := args[KeyLastResults].([]string)
			var out []string
			for _, i := range argIntSlice(args, "content_ids") {
				if i >= 0 && i < len(last) {
					out = append(out, last[i])
				}
			}
			return out, nil
		},
	}
}

// MemorySearch runs a similarity search over the user's memory fragments,
// drops weak hits, skips already-used ids and records the ids it returns.
func MemorySearch(searcher MemorySearcher, cutoff float64, k int) *Tool {
	return &Tool{
		Name:        "memory_search",
		Description: "在长期记忆里搜索与查询相关的内容",
		Params: []Param{
			{Name: "query", Type: "string", Description: "想要回忆的内容"},
		},
		Injected: []string{KeyUserID, KeyUsedIDs},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			query := argString(args, "query")
			if query == "" {
				return nil, fmt.Errorf("memory_search: empty query")
			}
			userID, _ := args[KeyUserID].(string)
			used, _ := args[KeyUsedIDs].(*UsedSet)
			if used == nil {
				return nil, fmt.Errorf("memory_search: used-id set missing")
			}

			hits, err := searcher.VectorSearch(ctx, userID, query, k)
			if err != nil {
				return nil, err
			}

			now := time.Now()
			var out []string
			for _, h := range hits {
				if h.Score < cutoff || used.Has(h.UUID) {
					continue
				}
				used.Add(h.UUID)
				out = append(out, fmt.Sprintf("在%s, %s", domain.Elapsed(now, h.CreatedAt), h.Content))
			}
			return out, nil
		},
	}
}

// SongIntro looks up a song's introduction with fuzzy title matching.
func SongIntro(c *music.Catalog) *Tool {
	return &Tool{
		Name:        "search_song_intro",
		Description: "查询一首歌的介绍",
		Params: []Param{
			{Name: "song_name", Type: "string"},
		},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			name := argString(args, "song_name")
			intro, ok := c.Intro(name)
			if !ok {
				return []string{fmt.Sprintf("没有找到歌曲%s的介绍", name)}, nil
			}
			return []string{fmt.Sprintf("《%s》的介绍：%s", titleOf(c, name), intro)}, nil
		},
	}
}

// SongLyrics looks up a song's full lyrics.
func SongLyrics(c *music.Catalog) *Tool {
	return &Tool{
		Name:        "search_song_lyrics",
		Description: "查询一首歌的歌词",
		Params: []Param{
			{Name: "song_name", Type: "string"},
		},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			name := argString(args, "song_name")
			lyrics, ok := c.Lyrics(name)
			if !ok {
				return []string{fmt.Sprintf("没有找到歌曲%s的歌词", name)}, nil
			}
			return []string{fmt.Sprintf("《%s》的歌词：\n%s", titleOf(c, name), strings.TrimSpace(lyrics))}, nil
		},
	}
}

// SongByLyrics finds songs containing a lyric snippet.
func SongByLyrics(c *music.Catalog) *Tool {
	return &Tool{
		Name:        "search_song_by_lyrics",
		Description: "根据歌词片段查找歌曲，片段至少需要8个非空白字符",
		Params: []Param{
			{Name: "lyrics_snippet", Type: "string"},
		},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			hits := c.SearchByLyrics(argString(args, "lyrics_snippet"))
			if len(hits) == 0 {
				return nil, nil
			}
			quoted := make([]string, 0, len(hits))
			for _, h := range hits {
				quoted = append(quoted, "《"+h+"》")
			}
			return []string{fmt.Sprintf("这段歌词来自：%s", strings.Join(quoted, "、"))}, nil
		},
	}
}

// SongsCanSing samples songs the persona can perform.
func SongsCanSing(c *music.Catalog) *Tool {
	return &Tool{
		Name:        "get_songs_can_sing",
		Description: "随机列出一些可以演唱的歌",
		Params: []Param{
			{Name: "max", Type: "int", Description: "最多返回几首"},
		},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			out, err := c.RandomSingable(argInt(args, "max", 5))
			if err != nil {
				return nil, err
			}
			return []string{out}, nil
		},
	}
}

// CanISing answers whether a song is performable and lists its segments.
func CanISing(c *music.Catalog) *Tool {
	return &Tool{
		Name:        "can_i_sing_song",
		Description: "查询某首歌能不能唱，以及可以唱哪些唱段",
		Params: []Param{
			{Name: "song_name", Type: "string"},
		},
		Exec: func(ctx context.Context, args map[string]any) ([]string, error) {
			return []string{c.CanSing(argString(args, "song_name"))}, nil
		},
	}
}

func titleOf(c *music.Catalog, name string) string {
	if s, ok := c.Find(name); ok {
		return s.Title
	}
	return name
}

// StandardRegistry assembles the retrieval planner's tool set.
func StandardRegistry(searcher MemorySearcher, catalog *music.Catalog, cutoff float64, searchK int) *Registry {
	r := NewRegistry()
	r.Register(InheritMemory())
	r.Register(MemorySearch(searcher, cutoff, searchK))
	r.Register(SongIntro(catalog))
	r.Register(SongLyrics(catalog))
	r.Register(SongByLyrics(catalog))
	r.Register(SongsCanSing(catalog))
	r.Register(CanISing(catalog))
	return r
}
