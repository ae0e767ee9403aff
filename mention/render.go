package mention

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ferrowell/parley/rangeset"
)

// byStartDesc returns the mentions sorted by descending span start, so
// callers can rewrite text right to left without invalidating the offsets
// of mentions they have not reached yet.
func byStartDesc(mentions []Mention) []Mention {
	sorted := make([]Mention, len(mentions))
	copy(sorted, mentions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Span.Start > sorted[j].Span.Start
	})
	return sorted
}

// inBounds reports whether the mention's span addresses valid rune offsets.
func inBounds(m Mention, textLen int) bool {
	return m.Span.Start >= 0 && m.Span.End >= m.Span.Start && m.Span.End <= textLen
}

// Segments splits composer text into plain and mention runs, in text order.
// Mentions with spans outside the text or overlapping a later mention are
// skipped rather than corrupting neighboring offsets.
func Segments(text string, mentions []Mention) []Segment {
	runes := []rune(text)
	rev := make([]Segment, 0, len(mentions)*2+1)

	end := len(runes)
	for _, m := range byStartDesc(mentions) {
		if !inBounds(m, len(runes)) || m.Span.End > end {
			continue
		}
		if m.Span.End < end {
			rev = append(rev, Segment{Text: string(runes[m.Span.End:end])})
		}
		rev = append(rev, Segment{Text: string(runes[m.Span.Start:m.Span.End]), UserID: m.UserID})
		end = m.Span.Start
	}
	if end > 0 {
		rev = append(rev, Segment{Text: string(runes[:end])})
	}

	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

// Template serializes composer text to wire form, replacing each mention's
// display span with the trigger and the user id. Rewrites run right to left
// so remaining spans stay valid while the text shrinks or grows.
func (t *Tracker) Template(text string, mentions []Mention) string {
	runes := []rune(text)
	end := len(runes)
	for _, m := range byStartDesc(mentions) {
		if !inBounds(m, len(runes)) || m.Span.End > end {
			continue
		}
		out := string(runes[:m.Span.Start]) + t.trigger + m.UserID + string(runes[m.Span.End:])
		runes = []rune(out)
		end = m.Span.Start
	}
	return string(runes)
}

// ParseTemplate reconstructs composer text from wire form. names maps user
// ids to display names without the trigger; at each trigger occurrence the
// longest user id that follows it is resolved. Returns the display text and
// the mentions with spans in display-text offsets.
func (t *Tracker) ParseTemplate(template string, names map[string]string) (string, []Mention) {
	var (
		out      []rune
		mentions []Mention
	)

	rest := template
	for len(rest) > 0 {
		id := ""
		if strings.HasPrefix(rest, t.trigger) {
			id = longestIDPrefix(rest[len(t.trigger):], names)
		}
		if id == "" {
			r, size := utf8.DecodeRuneInString(rest)
			out = append(out, r)
			rest = rest[size:]
			continue
		}

		display := t.trigger + names[id]
		start := len(out)
		out = append(out, []rune(display)...)
		mentions = append(mentions, Mention{
			UserID:  id,
			Display: display,
			Span:    rangeset.Span{Start: start, End: len(out)},
		})
		rest = rest[len(t.trigger)+len(id):]
	}

	return string(out), mentions
}

// longestIDPrefix returns the longest key of names that prefixes s, or "".
func longestIDPrefix(s string, names map[string]string) string {
	best := ""
	for id := range names {
		if len(id) > len(best) && strings.HasPrefix(s, id) {
			best = id
		}
	}
	return best
}
