// Package rangeset provides interval predicates over integer spans.
package rangeset

// Mode selects which endpoints of a span count as inside it.
type Mode int

const (
	// IncludeNeither treats both endpoints as outside: (start, end).
	IncludeNeither Mode = iota
	// IncludeStart treats only the start as inside: [start, end).
	IncludeStart
	// IncludeEnd treats only the end as inside: (start, end].
	IncludeEnd
	// IncludeBoth treats both endpoints as inside: [start, end].
	IncludeBoth
)

// Span is an integer interval from Start to End. Whether the endpoints
// belong to the interval is decided per call by a Mode.
type Span struct {
	Start int
	End   int
}

// Len returns the span's length.
func (s Span) Len() int {
	return s.End - s.Start
}

// Contains reports whether point lies inside s under the given mode.
// A zero-length span contains its boundary point only under IncludeBoth.
func Contains(s Span, point int, mode Mode) bool {
	switch mode {
	case IncludeBoth:
		return s.Start <= point && point <= s.End
	case IncludeStart:
		return s.Start <= point && point < s.End
	case IncludeEnd:
		return s.Start < point && point <= s.End
	default:
		return s.Start < point && point < s.End
	}
}

// Intersects reports whether either endpoint of b lies inside a under the
// given mode. This misses the case where b strictly encloses a; callers
// needing full interval overlap apply it in both directions.
func Intersects(a, b Span, mode Mode) bool {
	return Contains(a, b.Start, mode) || Contains(a, b.End, mode)
}
