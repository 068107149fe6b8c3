package stream

import (
	"strings"
	"unicode"
)

// minFlushLen is the shortest fragment emitted on its own; shorter ones
// buffer into the next fragment.
const minFlushLen = 6

func isSplitPunct(r rune) bool {
	switch r {
	case '。', '，', '！', '？', '~', ',':
		return true
	}
	return false
}

// SplitSentences cuts reply text into speakable fragments. Punctuation stays
// attached to the fragment it ends, parenthesized stage directions stick to
// the preceding fragment (or the next one when nothing precedes), and
// fragments shorter than minFlushLen merge forward. Splitting an already
// split fragment returns it unchanged.
func SplitSentences(text string) []string {
	type segment struct {
		s     string
		paren bool
	}

	runes := []rune(text)
	var segs []segment
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			segs = append(segs, segment{s: string(cur)})
			cur = nil
		}
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '（' || r == '(':
			closer := '）'
			if r == '(' {
				closer = ')'
			}
			j := i + 1
			for j < len(runes) && runes[j] != closer {
				j++
			}
			if j < len(runes) {
				j++
			}
			flush()
			segs = append(segs, segment{s: string(runes[i:j]), paren: true})
			i = j

		case r == '.':
			// A dot run (the ellipsis included) ends the fragment as one unit.
			j := i
			for j < len(runes) && runes[j] == '.' {
				j++
			}
			cur = append(cur, runes[i:j]...)
			flush()
			i = j

		case isSplitPunct(r):
			cur = append(cur, r)
			flush()
			i++

		default:
			cur = append(cur, r)
			i++
		}
	}
	flush()

	// Attach stage directions to the preceding spoken fragment; a leading
	// run waits for the first spoken fragment.
	var frags []string
	pending := ""
	for _, sg := range segs {
		if sg.paren {
			if len(frags) > 0 {
				frags[len(frags)-1] += sg.s
			} else {
				pending += sg.s
			}
			continue
		}
		frags = append(frags, pending+sg.s)
		pending = ""
	}
	if pending != "" {
		frags = append(frags, pending)
	}

	// Merge pure-punctuation pieces backward and short pieces forward.
	var out []string
	buf := ""
	for _, f := range frags {
		if purePunct(f) && buf == "" {
			if len(out) > 0 {
				out[len(out)-1] += f
			} else {
				buf = f
			}
			continue
		}
		buf += f
		if len([]rune(buf)) >= minFlushLen {
			out = append(out, buf)
			buf = ""
		}
	}
	if buf != "" {
		out = append(out, buf)
	}
	return out
}

// StripParens removes parenthesized runs so stage directions are displayed
// but never spoken. An unclosed paren swallows the rest of the text.
func StripParens(text string) string {
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		if r == '（' || r == '(' {
			closer := '）'
			if r == '(' {
				closer = ')'
			}
			j := i + 1
			for j < len(runes) && runes[j] != closer {
				j++
			}
			if j < len(runes) {
				j++
			}
			i = j
			continue
		}
		b.WriteRune(r)
		i++
	}
	return strings.TrimSpace(b.String())
}

func purePunct(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) && r != '~' {
			return false
		}
	}
	return s != ""
}
