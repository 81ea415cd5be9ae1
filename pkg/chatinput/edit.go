package chatinput

import "unicode/utf8"

// InsertText inserts typed text at the cursor and leaves the cursor after
// it. With the cursor at the start of a paste the text joins the text
// segment before the paste, or becomes a new one.
func (s State) InsertText(text string) State {
	s = sanitize(s)
	if text == "" {
		return s
	}
	out := s.clone()
	c := out.Cursor
	n := utf8.RuneCountInString(text)

	switch cur := out.current(); cur.Kind {
	case KindText:
		left, right := splitAt(cur.Content, c.Offset)
		out.Segments[c.Index].Content = left + text + right
		out.Cursor.Offset += n
	case KindLargePaste:
		if c.Index > 0 && out.Segments[c.Index-1].IsText() {
			prev := &out.Segments[c.Index-1]
			prev.Content += text
			out.Cursor = Cursor{Index: c.Index - 1, Offset: prev.Len()}
		} else {
			out.Segments = insertAt(out.Segments, c.Index, TextSegment(text))
			out.Cursor = Cursor{Index: c.Index, Offset: n}
		}
	}
	return sanitize(out)
}

// InsertPaste inserts pasted content. Content shorter than threshold runes
// is inserted as typed text; anything longer becomes a single paste
// segment and the cursor moves to the start of whatever follows it.
func (s State) InsertPaste(content string, threshold int) State {
	s = sanitize(s)
	if content == "" {
		return s
	}
	if utf8.RuneCountInString(content) < threshold {
		return s.InsertText(content)
	}
	out := s.clone()
	c := out.Cursor
	paste := PasteSegment(content)

	switch cur := out.current(); cur.Kind {
	case KindText:
		left, right := splitAt(cur.Content, c.Offset)
		repl := make([]Segment, 0, 3)
		if left != "" {
			repl = append(repl, TextSegment(left))
		}
		repl = append(repl, paste)
		pasteAt := c.Index + len(repl) - 1
		if right != "" || c.Index == len(out.Segments)-1 {
			repl = append(repl, TextSegment(right))
		}
		out.Segments = replaceAt(out.Segments, c.Index, repl...)
		out.Cursor = Cursor{Index: pasteAt + 1}
	case KindLargePaste:
		out.Segments = insertAt(out.Segments, c.Index, paste)
		out.Cursor = Cursor{Index: c.Index + 1}
	}
	return sanitize(out)
}

// InsertSuggestion replaces the last text segment with an accepted
// completion and puts the cursor at its end. A buffer ending in a paste
// gets a new text segment instead.
func (s State) InsertSuggestion(text string) State {
	s = sanitize(s)
	out := s.clone()
	last := len(out.Segments) - 1
	if out.Segments[last].IsText() {
		out.Segments[last].Content = text
	} else {
		out.Segments = append(out.Segments, TextSegment(text))
		last++
	}
	out.Cursor = Cursor{Index: last, Offset: utf8.RuneCountInString(text)}
	return sanitize(out)
}

// DeleteBefore removes the character before the cursor. A paste before
// the cursor is removed whole.
func (s State) DeleteBefore() State {
	s = sanitize(s)
	out := s.clone()
	c := out.Cursor
	cur := out.current()

	if cur.IsText() && c.Offset > 0 {
		r := []rune(cur.Content)
		out.Segments[c.Index].Content = string(r[:c.Offset-1]) + string(r[c.Offset:])
		out.Cursor.Offset--
		return sanitize(out)
	}
	if c.Index == 0 {
		return s
	}

	switch prev := out.Segments[c.Index-1]; prev.Kind {
	case KindLargePaste:
		out.Segments = removeAt(out.Segments, c.Index-1)
		out.Cursor = Cursor{Index: c.Index - 1}
	case KindText:
		// Only reachable from the start of a paste.
		r := []rune(prev.Content)
		out.Segments[c.Index-1].Content = string(r[:len(r)-1])
	}
	return sanitize(out)
}

// DeleteAfter removes the character after the cursor. A paste after the
// cursor, or one the cursor sits on, is removed whole.
func (s State) DeleteAfter() State {
	s = sanitize(s)
	out := s.clone()
	c := out.Cursor
	cur := out.current()

	switch {
	case cur.IsText() && c.Offset < cur.Len():
		r := []rune(cur.Content)
		out.Segments[c.Index].Content = string(r[:c.Offset]) + string(r[c.Offset+1:])
	case cur.IsPaste():
		out.Segments = removeAt(out.Segments, c.Index)
		if c.Index < len(out.Segments) {
			out.Cursor = Cursor{Index: c.Index}
		} else if len(out.Segments) > 0 {
			last := len(out.Segments) - 1
			out.Cursor = Cursor{Index: last, Offset: out.Segments[last].Len()}
		}
	case c.Index < len(out.Segments)-1:
		// End of a text segment: the next segment is a paste.
		out.Segments = removeAt(out.Segments, c.Index+1)
	default:
		return s
	}
	return sanitize(out)
}

// DeleteWordBackward removes everything between the cursor and the target
// of MoveWordLeft in one edit.
func (s State) DeleteWordBackward() State {
	s = sanitize(s)
	g := s.atomIndex()
	from := prevWordStop(s.atoms(), g)
	if from == g {
		return s
	}
	return s.deleteAtoms(from, g)
}

// DeleteWordForward removes everything between the cursor and the target
// of MoveWordRight in one edit.
func (s State) DeleteWordForward() State {
	s = sanitize(s)
	g := s.atomIndex()
	to := nextWordStop(s.atoms(), g)
	if to == g {
		return s
	}
	return s.deleteAtoms(g, to)
}

// deleteAtoms removes atoms in [from, to) and leaves the cursor at from.
func (s State) deleteAtoms(from, to int) State {
	segs := make([]Segment, 0, len(s.Segments))
	start := 0
	for _, seg := range s.Segments {
		n := seg.atoms()
		end := start + n
		switch seg.Kind {
		case KindText:
			if end <= from || start >= to {
				segs = append(segs, seg)
				break
			}
			r := []rune(seg.Content)
			lo := max(from-start, 0)
			hi := min(to-start, n)
			segs = append(segs, TextSegment(string(r[:lo])+string(r[hi:])))
		case KindLargePaste:
			if start < from || start >= to {
				segs = append(segs, seg)
			}
		}
		start = end
	}
	return sanitize(State{Segments: segs, Cursor: cursorAt(segs, from)})
}

func splitAt(s string, offset int) (string, string) {
	r := []rune(s)
	return string(r[:offset]), string(r[offset:])
}

func insertAt(segs []Segment, i int, seg Segment) []Segment {
	return replaceAt(segs, i, seg, segs[i])
}

// replaceAt returns a new slice with segs[i] replaced by repl.
func replaceAt(segs []Segment, i int, repl ...Segment) []Segment {
	out := make([]Segment, 0, len(segs)-1+len(repl))
	out = append(out, segs[:i]...)
	out = append(out, repl...)
	return append(out, segs[i+1:]...)
}

func removeAt(segs []Segment, i int) []Segment {
	return replaceAt(segs, i)
}
