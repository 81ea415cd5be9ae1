// Package chatinput implements the chat prompt buffer: an ordered list of
// segments, where typed text is editable character by character and large
// pastes are kept as opaque units that render as a short placeholder.
package chatinput

import (
	"fmt"
	"unicode/utf8"
)

// SegmentKind distinguishes the two kinds of buffer segments.
type SegmentKind int

const (
	// KindText is ordinary, character-addressable text.
	KindText SegmentKind = iota
	// KindLargePaste is pasted content at or above the large paste threshold.
	// It is inserted, skipped and deleted as a single unit.
	KindLargePaste
)

func (k SegmentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindLargePaste:
		return "largePaste"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// Segment is one run of buffer content.
type Segment struct {
	Kind    SegmentKind
	Content string
}

// TextSegment returns a text segment holding s.
func TextSegment(s string) Segment {
	return Segment{Kind: KindText, Content: s}
}

// PasteSegment returns a large paste segment holding s.
func PasteSegment(s string) Segment {
	return Segment{Kind: KindLargePaste, Content: s}
}

// Len returns the length of the segment content in runes. Cursor offsets
// are measured in the same unit.
func (s Segment) Len() int {
	return utf8.RuneCountInString(s.Content)
}

// IsText reports whether s is a text segment.
func (s Segment) IsText() bool {
	return s.Kind == KindText
}

// IsPaste reports whether s is a large paste segment.
func (s Segment) IsPaste() bool {
	return s.Kind == KindLargePaste
}

// Placeholder returns the text shown in place of the segment when the
// buffer is rendered. For text segments it is the content itself.
func (s Segment) Placeholder() string {
	switch s.Kind {
	case KindText:
		return s.Content
	case KindLargePaste:
		return fmt.Sprintf("[Pasted %d characters]", s.Len())
	default:
		panic(fmt.Sprintf("chatinput: unknown segment kind %d", int(s.Kind)))
	}
}

// atoms returns the number of cursor steps the segment occupies: one per
// rune for text, one in total for a paste.
func (s Segment) atoms() int {
	switch s.Kind {
	case KindText:
		return s.Len()
	case KindLargePaste:
		return 1
	default:
		panic(fmt.Sprintf("chatinput: unknown segment kind %d", int(s.Kind)))
	}
}
