package chatinput

import "unicode"

// MoveLeft moves the cursor one character to the left. Crossing into a
// text segment lands at its end; crossing into a paste lands at its start,
// so a paste is skipped in one step.
func (s State) MoveLeft() State {
	s = sanitize(s)
	c := s.Cursor
	switch {
	case s.current().IsText() && c.Offset > 0:
		c.Offset--
	case c.Index > 0:
		prev := s.Segments[c.Index-1]
		c = Cursor{Index: c.Index - 1}
		if prev.IsText() {
			c.Offset = prev.Len()
		}
	}
	s.Cursor = c
	return s
}

// MoveRight moves the cursor one character to the right. Crossing into
// any segment lands at its start. At the end of the buffer it is a no-op.
func (s State) MoveRight() State {
	s = sanitize(s)
	c := s.Cursor
	cur := s.current()
	switch {
	case cur.IsText() && c.Offset < cur.Len():
		c.Offset++
	case c.Index < len(s.Segments)-1:
		c = Cursor{Index: c.Index + 1}
	case cur.IsPaste():
		// Stepping past a final paste; sanitize supplies the text after it.
		c.Offset = cur.Len()
	}
	s.Cursor = c
	return sanitize(s)
}

// MoveWordLeft skips whitespace to the left, then the word before it. A
// paste counts as a single word.
func (s State) MoveWordLeft() State {
	s = sanitize(s)
	return s.moveTo(prevWordStop(s.atoms(), s.atomIndex()))
}

// MoveWordRight skips whitespace to the right, then the word after it. A
// paste counts as a single word.
func (s State) MoveWordRight() State {
	s = sanitize(s)
	return s.moveTo(nextWordStop(s.atoms(), s.atomIndex()))
}

// MoveToLineStart moves the cursor just after the nearest newline to its
// left, or to the start of the buffer. Newlines inside pastes are ignored.
func (s State) MoveToLineStart() State {
	s = sanitize(s)
	return s.moveTo(lineStart(s.atoms(), s.atomIndex()))
}

// MoveToLineEnd moves the cursor just before the nearest newline to its
// right, or to the end of the buffer. Newlines inside pastes are ignored.
func (s State) MoveToLineEnd() State {
	s = sanitize(s)
	return s.moveTo(lineEnd(s.atoms(), s.atomIndex()))
}

func (s State) moveTo(g int) State {
	s.Cursor = cursorAt(s.Segments, g)
	return sanitize(s)
}

// atom is one cursor step of the buffer: a rune of text or a whole paste.
type atom struct {
	r     rune
	paste bool
}

func (a atom) space() bool {
	return !a.paste && unicode.IsSpace(a.r)
}

func (a atom) newline() bool {
	return !a.paste && a.r == '\n'
}

func (s State) atoms() []atom {
	var out []atom
	for _, seg := range s.Segments {
		switch seg.Kind {
		case KindText:
			for _, r := range seg.Content {
				out = append(out, atom{r: r})
			}
		case KindLargePaste:
			out = append(out, atom{paste: true})
		}
	}
	return out
}

// atomIndex returns the number of atoms before the cursor.
func (s State) atomIndex() int {
	g := 0
	for i := 0; i < s.Cursor.Index; i++ {
		g += s.Segments[i].atoms()
	}
	cur := s.current()
	if cur.IsPaste() {
		if s.Cursor.Offset > 0 {
			g++
		}
		return g
	}
	return g + s.Cursor.Offset
}

// cursorAt maps an atom index back to a cursor on the segment holding the
// atom that follows it. The end of the buffer maps to the end of the last
// segment.
func cursorAt(segs []Segment, g int) Cursor {
	if len(segs) == 0 {
		return Cursor{}
	}
	start := 0
	for i, seg := range segs {
		n := seg.atoms()
		if g < start+n {
			if seg.IsPaste() {
				return Cursor{Index: i}
			}
			return Cursor{Index: i, Offset: g - start}
		}
		start += n
	}
	last := len(segs) - 1
	return Cursor{Index: last, Offset: segs[last].Len()}
}

func prevWordStop(atoms []atom, g int) int {
	i := g
	for i > 0 && atoms[i-1].space() {
		i--
	}
	if i > 0 && atoms[i-1].paste {
		return i - 1
	}
	for i > 0 && !atoms[i-1].paste && !atoms[i-1].space() {
		i--
	}
	return i
}

func nextWordStop(atoms []atom, g int) int {
	i := g
	for i < len(atoms) && atoms[i].space() {
		i++
	}
	if i < len(atoms) && atoms[i].paste {
		return i + 1
	}
	for i < len(atoms) && !atoms[i].paste && !atoms[i].space() {
		i++
	}
	return i
}

func lineStart(atoms []atom, g int) int {
	for i := g; i > 0; i-- {
		if atoms[i-1].newline() {
			return i
		}
	}
	return 0
}

func lineEnd(atoms []atom, g int) int {
	for i := g; i < len(atoms); i++ {
		if atoms[i].newline() {
			return i
		}
	}
	return len(atoms)
}
