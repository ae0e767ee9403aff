package mention

import "github.com/ferrowell/parley/rangeset"

// ReconcileAfterEdit shifts mention spans across an edit at editIndex.
// delta is positive for insertions and negative for deletions, in runes.
// Every mention whose span starts at or after editIndex moves by delta;
// mentions starting before it keep their offsets. The input slice is not
// modified.
func ReconcileAfterEdit(delta, editIndex int, mentions []Mention) []Mention {
	out := make([]Mention, len(mentions))
	for i, m := range mentions {
		if m.Span.Start >= editIndex {
			m.Span.Start += delta
			m.Span.End += delta
		}
		out[i] = m
	}
	return out
}

// RemoveInSelection clears every mention whose span touches the selection,
// comparing both boundaries inclusively. A selection that clips any part of
// a mention removes the whole mention; partial mentions never survive.
func RemoveInSelection(sel rangeset.Span, mentions []Mention) Removal {
	r := Removal{LastAffectedEnd: -1}
	for _, m := range mentions {
		touches := rangeset.Intersects(sel, m.Span, rangeset.IncludeBoth) ||
			rangeset.Intersects(m.Span, sel, rangeset.IncludeBoth)
		if !touches {
			r.Kept = append(r.Kept, m)
			continue
		}
		if m.Span.End > r.LastAffectedEnd {
			r.LastAffectedEnd = m.Span.End
		}
		r.NetLengthDelta -= m.Span.Len()
	}
	return r
}
