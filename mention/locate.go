package mention

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ferrowell/parley/rangeset"
)

// isDelimiter reports whether r separates mention tokens.
func isDelimiter(r rune) bool {
	return unicode.IsSpace(r)
}

// LocateActiveSearch scans backward from the cursor to the nearest delimiter
// and reports whether the token found there is a mention search. The cursor
// is a rune offset; out-of-range cursors yield an untriggered result.
func (t *Tracker) LocateActiveSearch(text string, cursor int) Search {
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		return Search{}
	}

	start := cursor
	for start > 0 && !isDelimiter(runes[start-1]) {
		start--
	}

	token := string(runes[start:cursor])
	if !strings.HasPrefix(token, t.trigger) {
		return Search{}
	}

	query := strings.TrimPrefix(token, t.trigger)
	s := Search{Query: query, Triggered: true, Valid: true}
	if strings.HasPrefix(query, t.trigger) {
		s.Valid = false
	}
	if r, _ := utf8.DecodeRuneInString(query); r != utf8.RuneError && isDelimiter(r) {
		s.Valid = false
	}
	return s
}

// RangeOfActiveSearch returns the span the active search occupies in the
// composer text: the trigger plus the query, ending at the cursor. Offsets
// are rune counts.
func (t *Tracker) RangeOfActiveSearch(cursor int, query string) rangeset.Span {
	start := cursor - utf8.RuneCountInString(query) - utf8.RuneCountInString(t.trigger)
	return rangeset.Span{Start: start, End: cursor}
}
