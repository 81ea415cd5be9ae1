package chatinput

import (
	"strings"
	"unicode/utf8"
)

// Span is a half-open rune range [Start, End) of rendered text.
type Span struct {
	Start int
	End   int
}

// Rendered is the flattened, display form of a buffer.
type Rendered struct {
	// Text is the buffer with every paste replaced by its placeholder.
	Text string
	// Cursor is the rune column of the cursor within Text.
	Cursor int
	// Highlights covers each paste placeholder, in buffer order.
	Highlights []Span
	// Focus is the index into Highlights of the placeholder the cursor
	// sits on, or -1.
	Focus int
}

// Render flattens the buffer for display.
func (s State) Render() Rendered {
	r := Rendered{Focus: -1}
	if len(s.Segments) == 0 {
		return r
	}
	at := clamp(s.Cursor.Index, 0, len(s.Segments)-1)

	var b strings.Builder
	col := 0
	for i, seg := range s.Segments {
		text := seg.Placeholder()
		n := utf8.RuneCountInString(text)
		if i == at {
			switch seg.Kind {
			case KindText:
				r.Cursor = col + clamp(s.Cursor.Offset, 0, n)
			case KindLargePaste:
				if s.Cursor.Offset > 0 {
					r.Cursor = col + n
				} else {
					r.Cursor = col
					r.Focus = len(r.Highlights)
				}
			}
		}
		if seg.IsPaste() {
			r.Highlights = append(r.Highlights, Span{Start: col, End: col + n})
		}
		b.WriteString(text)
		col += n
	}
	r.Text = b.String()
	return r
}
