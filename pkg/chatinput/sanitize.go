package chatinput

// sanitize restores the buffer invariants on an arbitrary state. Every
// operator runs it on its input and on its result; it is idempotent.
//
// After sanitize:
//   - there is at least one segment;
//   - no two text segments are adjacent;
//   - the only empty text segment is a trailing one that follows a paste,
//     or the lone segment of an empty buffer;
//   - the cursor index and offset are in range;
//   - a cursor on a paste sits at offset 0.
func sanitize(in State) State {
	segs := in.Segments
	at := in.Cursor.Index
	off := in.Cursor.Offset
	tracked := at >= 0 && at < len(segs)
	if tracked {
		off = clamp(off, 0, segs[at].Len())
	}

	// Merge runs of text, re-basing a cursor that sits inside the run.
	merged := make([]Segment, 0, len(segs))
	mergedAt := at
	for i, seg := range segs {
		if seg.IsText() && len(merged) > 0 && merged[len(merged)-1].IsText() {
			last := &merged[len(merged)-1]
			if tracked && i == at {
				mergedAt = len(merged) - 1
				off += last.Len()
			}
			last.Content += seg.Content
			continue
		}
		if tracked && i == at {
			mergedAt = len(merged)
		}
		merged = append(merged, seg)
	}

	// Drop empty text, keeping a trailing placeholder after a paste.
	kept := make([]Segment, 0, len(merged))
	keptAt := mergedAt
	dropped := false
	for j, seg := range merged {
		placeholder := j > 0 && j == len(merged)-1 && merged[j-1].IsPaste()
		if seg.IsText() && seg.Content == "" && !placeholder {
			if tracked && j == mergedAt {
				keptAt, off = len(kept), 0
				dropped = true
			}
			continue
		}
		if tracked && j == mergedAt {
			keptAt = len(kept)
		}
		kept = append(kept, seg)
	}

	if len(kept) == 0 {
		return Empty()
	}
	if dropped && keptAt >= len(kept) {
		keptAt = len(kept) - 1
		off = kept[keptAt].Len()
	}

	cur := Cursor{Index: clamp(keptAt, 0, len(kept)-1)}
	cur.Offset = clamp(off, 0, kept[cur.Index].Len())

	if kept[cur.Index].IsPaste() && cur.Offset > 0 {
		if cur.Index == len(kept)-1 {
			kept = append(kept, TextSegment(""))
		}
		cur = Cursor{Index: cur.Index + 1}
	}

	return State{Segments: kept, Cursor: cur}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
