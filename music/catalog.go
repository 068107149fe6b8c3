// Package music loads the read-only song catalog from disk and answers the
// lookups the planner and the retrieval tools need: introductions, lyrics,
// singable segments and segment audio.
package music

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

type LyricLine struct {
	Duration float64 `json:"duration"`
	Content  string  `json:"content"`
}

type Segment struct {
	Description string      `json:"description"`
	StartTime   float64     `json:"start_time"`
	EndTime     float64     `json:"end_time"`
	Lyrics      []LyricLine `json:"lyrics"`
}

type Song struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	LrcOffset   float64   `json:"lrc_offset"`
	Segments    []Segment `json:"segments"`

	dir string
}

// Dir returns the on-disk directory name of the song.
func (s *Song) Dir() string { return s.dir }

// AllLyrics joins every segment's lyric lines in order.
func (s *Song) AllLyrics() string {
	var b strings.Builder
	for _, seg := range s.Segments {
		for _, line := range seg.Lyrics {
			b.WriteString(line.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FindSegment matches a segment by description, exact first then substring.
func (s *Song) FindSegment(name string) (*Segment, bool) {
	for i := range s.Segments {
		if s.Segments[i].Description == name {
			return &s.Segments[i], true
		}
	}
	for i := range s.Segments {
		if strings.Contains(s.Segments[i].Description, name) || strings.Contains(name, s.Segments[i].Description) {
			return &s.Segments[i], true
		}
	}
	return nil, false
}

// Catalog is the in-memory song library, loaded once at startup.
type Catalog struct {
	root  string
	songs map[string]*Song // keyed by title
	names []string         // sorted titles
}

// Load reads every song under <root>/songs/<dir>/<dir>.json. Directories
// without a parseable JSON descriptor are skipped with an error only when
// nothing loads at all.
func Load(root string) (*Catalog, error) {
	songsDir := filepath.Join(root, "songs")
	dirs, err := os.ReadDir(songsDir)
	if err != nil {
		return nil, fmt.Errorf("read songs dir: %w", err)
	}

	c := &Catalog{root: root, songs: map[string]*Song{}}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		path := filepath.Join(songsDir, d.Name(), d.Name()+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		song := &Song{dir: d.Name()}
		if err := json.Unmarshal(data, song); err != nil {
			continue
		}
		if song.Title == "" {
			song.Title = d.Name()
		}
		c.songs[song.Title] = song
		c.names = append(c.names, song.Title)
	}
	sort.Strings(c.names)
	return c, nil
}

// Titles lists all song titles in sorted order.
func (c *Catalog) Titles() []string {
	return append([]string(nil), c.names...)
}

// normalizeName strips the Chinese title quotes clients and models add.
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, "《》")
	return name
}

// Find locates a song by title: exact match first, then case-insensitive
// substring in either direction.
func (c *Catalog) Find(name string) (*Song, bool) {
	name = normalizeName(name)
	if s, ok := c.songs[name]; ok {
		return s, true
	}
	lower := strings.ToLower(name)
	for _, title := range c.names {
		lt := strings.ToLower(title)
		if strings.Contains(lt, lower) || strings.Contains(lower, lt) {
			return c.songs[title], true
		}
	}
	return nil, false
}

// Intro returns a song's description.
func (c *Catalog) Intro(name string) (string, bool) {
	s, ok := c.Find(name)
	if !ok {
		return "", false
	}
	return s.Description, true
}

// Lyrics returns a song's full lyric text.
func (c *Catalog) Lyrics(name string) (string, bool) {
	s, ok := c.Find(name)
	if !ok {
		return "", false
	}
	return s.AllLyrics(), true
}

// minLyricQuery is the shortest usable lyric snippet, counted in
// non-whitespace runes.
const minLyricQuery = 8

func denseLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// SearchByLyrics finds songs whose lyrics contain the snippet. Snippets with
// fewer than eight non-whitespace characters return nothing. If the full
// snippet has no hits, the snippet is bisected once at its midpoint and the
// two halves' result sets are intersected.
func (c *Catalog) SearchByLyrics(snippet string) []string {
	if denseLen(snippet) < minLyricQuery {
		return nil
	}

	hits := c.lyricsContaining(snippet)
	if len(hits) > 0 {
		return hits
	}

	runes := []rune(snippet)
	mid := len(runes) / 2
	left := c.lyricsContaining(string(runes[:mid]))
	right := c.lyricsContaining(string(runes[mid:]))

	var both []string
	for _, title := range left {
		for _, other := range right {
			if title == other {
				both = append(both, title)
				break
			}
		}
	}
	return both
}

func (c *Catalog) lyricsContaining(snippet string) []string {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return nil
	}
	var hits []string
	for _, title := range c.names {
		if strings.Contains(c.songs[title].AllLyrics(), snippet) {
			hits = append(hits, title)
		}
	}
	return hits
}

// CanSing describes whether the persona can perform a song and which
// segments are available.
func (c *Catalog) CanSing(name string) string {
	s, ok := c.Find(name)
	if !ok || len(s.Segments) == 0 {
		return fmt.Sprintf("洛天依目前无法演唱%s", normalizeName(name))
	}
	descs := make([]string, 0, len(s.Segments))
	for _, seg := range s.Segments {
		descs = append(descs, seg.Description)
	}
	return fmt.Sprintf("洛天依可以演唱《%s》，可以唱的唱段有：%s", s.Title, strings.Join(descs, "、"))
}

// RandomSingable samples up to max songs and returns a JSON object mapping
// title to description.
func (c *Catalog) RandomSingable(max int) (string, error) {
	titles := c.Titles()
	if len(titles) > max {
		rand.Shuffle(len(titles), func(i, j int) { titles[i], titles[j] = titles[j], titles[i] })
		titles = titles[:max]
		sort.Strings(titles)
	}
	picked := make(map[string]string, len(titles))
	for _, title := range titles {
		picked[title] = c.songs[title].Description
	}
	b, err := json.Marshal(picked)
	if err != nil {
		return "", fmt.Errorf("marshal songs: %w", err)
	}
	return string(b), nil
}

// SegmentAudio returns the audio bytes for a song segment. Pre-cut per-segment
// files (<dir>.<index>.mp3) are preferred; the whole-song file is the
// fallback.
func (c *Catalog) SegmentAudio(song *Song, seg *Segment) ([]byte, error) {
	segIndex := -1
	for i := range song.Segments {
		if &song.Segments[i] == seg {
			segIndex = i
			break
		}
	}
	if segIndex >= 0 {
		cut := filepath.Join(c.root, "songs", song.dir, fmt.Sprintf("%s.%d.mp3", song.dir, segIndex))
		if data, err := os.ReadFile(cut); err == nil {
			return data, nil
		}
	}

	whole := filepath.Join(c.root, "songs", song.dir, song.dir+".mp3")
	data, err := os.ReadFile(whole)
	if err != nil {
		return nil, fmt.Errorf("read song audio: %w", err)
	}
	return data, nil
}
