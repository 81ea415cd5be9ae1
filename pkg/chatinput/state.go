package chatinput

import (
	"fmt"
	"strings"
)

// Cursor locates the insertion point: a segment index and a rune offset
// inside that segment.
type Cursor struct {
	Index  int
	Offset int
}

func (c Cursor) String() string {
	return fmt.Sprintf("(%d,%d)", c.Index, c.Offset)
}

// State is a snapshot of the prompt buffer. States are values: every
// operator returns a new State and leaves its receiver untouched.
type State struct {
	Segments []Segment
	Cursor   Cursor
}

// Empty returns the buffer used at the start of each chat turn: a single
// empty text segment with the cursor at its start.
func Empty() State {
	return State{Segments: []Segment{TextSegment("")}}
}

// NewState builds a state from segments and a cursor, repairing anything
// that would break the buffer invariants.
func NewState(segments []Segment, cursor Cursor) State {
	return sanitize(State{Segments: segments, Cursor: cursor})
}

// IsEmpty reports whether the buffer holds no content at all.
func (s State) IsEmpty() bool {
	for _, seg := range s.Segments {
		if seg.Content != "" {
			return false
		}
	}
	return true
}

// HasPaste reports whether the buffer contains at least one large paste.
func (s State) HasPaste() bool {
	for _, seg := range s.Segments {
		if seg.IsPaste() {
			return true
		}
	}
	return false
}

// Content returns the text that is submitted to the model: text segments
// verbatim and large pastes expanded to their full content.
func (s State) Content() string {
	var b strings.Builder
	for _, seg := range s.Segments {
		b.WriteString(seg.Content)
	}
	return b.String()
}

func (s State) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, seg := range s.Segments {
		if i > 0 {
			b.WriteString(", ")
		}
		switch seg.Kind {
		case KindText:
			fmt.Fprintf(&b, "Text(%q)", seg.Content)
		case KindLargePaste:
			fmt.Fprintf(&b, "LargePaste(%q)", seg.Content)
		default:
			fmt.Fprintf(&b, "%v(%q)", seg.Kind, seg.Content)
		}
	}
	b.WriteString("] cursor=")
	b.WriteString(s.Cursor.String())
	return b.String()
}

func (s State) clone() State {
	segs := make([]Segment, len(s.Segments))
	copy(segs, s.Segments)
	return State{Segments: segs, Cursor: s.Cursor}
}

func (s State) current() Segment {
	return s.Segments[s.Cursor.Index]
}
