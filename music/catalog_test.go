package music

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSong(t *testing.T, root, dir string, song map[string]any) {
	t.Helper()
	d := filepath.Join(root, "songs", dir)
	require.NoError(t, os.MkdirAll(d, 0o755))
	data, err := json.Marshal(song)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(d, dir+".json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d, dir+".mp3"), []byte("whole-song-audio"), 0o644))
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	root := t.TempDir()

	writeSong(t, root, "guang_yu_ying", map[string]any{
		"title":       "光与影的对白",
		"description": "一首关于光影的歌",
		"lrc_offset":  0.5,
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
	})
	writeSong(t, root, "qian_nian", map[string]any{
		"title":       "千年食谱颂",
		"description": "吃货之歌",
		"segments": []map[string]any{
			{
				"description": "副歌",
				"start_time":  20.0,
				"end_time":    50.0,
				"lyrics": []map[string]any{
					{"duration": 3.0, "content": "美食是世界的光"},
				},
			},
		},
	})

	c, err := Load(root)
	require.NoError(t, err)
	return c
}

func TestFindStripsTitleQuotes(t *testing.T) {
	c := testCatalog(t)

	s, ok := c.Find("《光与影的对白》")
	require.True(t, ok)
	assert.Equal(t, "光与影的对白", s.Title)

	s, ok = c.Find("光与影")
	require.True(t, ok)
	assert.Equal(t, "光与影的对白", s.Title)

	_, ok = c.Find("不存在的歌")
	assert.False(t, ok)
}

func TestIntroAndLyrics(t *testing.T) {
	c := testCatalog(t)

	intro, ok := c.Intro("光与影的对白")
	require.True(t, ok)
	assert.Equal(t, "一首关于光影的歌", intro)

	lyrics, ok := c.Lyrics("光与影的对白")
	require.True(t, ok)
	assert.Contains(t, lyrics, "穿过黑夜的光芒照亮我")
	assert.Contains(t, lyrics, "与影子的对白在回响")
}

func TestSearchByLyricsShortSnippetRejected(t *testing.T) {
	c := testCatalog(t)
	assert.Nil(t, c.SearchByLyrics("黑夜"))
	assert.Nil(t, c.SearchByLyrics("黑 夜 的 光  "), "whitespace does not count toward the minimum")
}

func TestSearchByLyricsDirectHit(t *testing.T) {
	c := testCatalog(t)
	hits := c.SearchByLyrics("黑夜的光芒照亮我")
	require.Len(t, hits, 1)
	assert.Equal(t, "光与影的对白", hits[0])
}

func TestSearchByLyricsBisect(t *testing.T) {
	c := testCatalog(t)
	// No song contains this as one run, but both halves hit the same song.
	hits := c.SearchByLyrics("黑夜的光芒影子的对白")
	require.Len(t, hits, 1)
	assert.Equal(t, "光与影的对白", hits[0])
}

func TestCanSing(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, "洛天依可以演唱《光与影的对白》，可以唱的唱段有：段落1", c.CanSing("光与影的对白"))
	assert.Equal(t, "洛天依目前无法演唱没有这首", c.CanSing("没有这首"))
}

func TestRandomSingable(t *testing.T) {
	c := testCatalog(t)
	out, err := c.RandomSingable(1)
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Len(t, m, 1)
}

func TestSegmentAudioPrefersPreCut(t *testing.T) {
	c := testCatalog(t)
	s, ok := c.Find("光与影的对白")
	require.True(t, ok)
	seg, ok := s.FindSegment("段落1")
	require.True(t, ok)

	data, err := c.SegmentAudio(s, seg)
	require.NoError(t, err)
	assert.Equal(t, "whole-song-audio", string(data))

	cut := filepath.Join(c.root, "songs", s.Dir(), s.Dir()+".0.mp3")
	require.NoError(t, os.WriteFile(cut, []byte("segment-audio"), 0o644))

	data, err = c.SegmentAudio(s, seg)
	require.NoError(t, err)
	assert.Equal(t, "segment-audio", string(data))
}
