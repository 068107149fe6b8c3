// Package stream delivers a generated reply as framed server-sent events,
// synthesizing speech per fragment and chunking song audio.
package stream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vocagent/vocagent/agent/chat"
	"github.com/vocagent/vocagent/music"
	"github.com/vocagent/vocagent/shared/id"
)

// maxAudioChunk bounds the base64 audio payload of a single frame.
const maxAudioChunk = 640 * 1024

// SingExpression marks the first frame of a performed song.
const SingExpression = "唱歌"

// Frame is one streamed message. Expression is null on the audio-only tail
// frames of a song.
type Frame struct {
	UUID           string  `json:"uuid"`
	Text           string  `json:"text"`
	Expression     *string `json:"expression"`
	Audio          string  `json:"audio"`
	IsFinalPackage bool    `json:"is_final_package"`
}

// Synthesizer produces speech audio for one text fragment.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, tone string) ([]byte, error)
}

type Streamer struct {
	tts     Synthesizer
	catalog *music.Catalog
}

func New(tts Synthesizer, catalog *music.Catalog) *Streamer {
	return &Streamer{tts: tts, catalog: catalog}
}

// Stream frames every reply item in order onto out. The channel send is the
// flush point between frames. Synthesis failures degrade the frame to
// text-only; a sing item naming an unknown song is skipped.
func (s *Streamer) Stream(ctx context.Context, items []*chat.Item, out chan<- *Frame) error {
	for _, item := range items {
		switch item.Type {
		case chat.ItemSay:
			if err := s.streamSay(ctx, item.Say, out); err != nil {
				return err
			}
		case chat.ItemSing:
			if err := s.streamSing(ctx, item.Sing, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Streamer) streamSay(ctx context.Context, say *chat.SayParams, out chan<- *Frame) error {
	for _, frag := range SplitSentences(say.Content) {
		audio := ""
		if spoken := StripParens(frag); spoken != "" {
			raw, err := s.tts.Synthesize(ctx, spoken, say.Tone)
			if err != nil {
				slog.WarnContext(ctx, "speech synthesis failed, sending text only",
					"tone", say.Tone, "error", err)
			} else {
				audio = base64.StdEncoding.EncodeToString(raw)
			}
		}
		expr := say.Expression
		frame := &Frame{
			UUID:           id.NewFrame(),
			Text:           frag,
			Expression:     &expr,
			Audio:          audio,
			IsFinalPackage: true,
		}
		if err := send(ctx, out, frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Streamer) streamSing(ctx context.Context, sing *chat.SingParams, out chan<- *Frame) error {
	song, ok := s.catalog.Find(sing.SongName)
	if !ok {
		slog.WarnContext(ctx, "sing item names unknown song, skipping", "song", sing.SongName)
		return nil
	}
	seg, ok := song.FindSegment(sing.Segment)
	if !ok {
		if len(song.Segments) == 0 {
			slog.WarnContext(ctx, "song has no segments, skipping", "song", song.Title)
			return nil
		}
		seg = &song.Segments[0]
	}

	raw, err := s.catalog.SegmentAudio(song, seg)
	if err != nil {
		return fmt.Errorf("read song audio: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	var lines []string
	for _, line := range seg.Lyrics {
		lines = append(lines, line.Content)
	}

	first := true
	for len(encoded) > 0 {
		n := len(encoded)
		if n > maxAudioChunk {
			n = maxAudioChunk
		}
		chunk := encoded[:n]
		encoded = encoded[n:]

		frame := &Frame{
			UUID:           id.NewFrame(),
			Audio:          chunk,
			IsFinalPackage: len(encoded) == 0,
		}
		if first {
			frame.Text = fmt.Sprintf("（唱歌）：《%s》\n%s", song.Title, strings.Join(lines, "\n"))
			expr := SingExpression
			frame.Expression = &expr
			first = false
		}
		if err := send(ctx, out, frame); err != nil {
			return err
		}
	}
	return nil
}

func send(ctx context.Context, out chan<- *Frame, f *Frame) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
