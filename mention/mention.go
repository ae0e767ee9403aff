// Package mention tracks user-mention spans in composer text: locating the
// active search behind the cursor, shifting spans across edits, clearing
// spans a selection touches, and converting between display and template
// forms of a message body.
package mention

import "github.com/ferrowell/parley/rangeset"

// DefaultTrigger starts a mention search when typed after a delimiter.
const DefaultTrigger = "@"

// Mention binds a user to the span of composer text that displays them.
// Display includes the trigger (e.g. "@alice"). Spans are rune offsets,
// end-exclusive, and stored mentions never overlap.
type Mention struct {
	UserID  string
	Display string
	Span    rangeset.Span
}

// Search is the state of the mention search at the cursor, if any.
type Search struct {
	// Query is the text typed after the trigger, without the trigger.
	Query string
	// Triggered reports that the token behind the cursor starts with the
	// trigger sequence.
	Triggered bool
	// Valid is false when the query itself begins with another trigger or
	// a delimiter, which means the token cannot name a user.
	Valid bool
}

// Removal is the outcome of clearing mentions that a selection touches.
type Removal struct {
	// Kept holds the mentions that survived, in their original order.
	Kept []Mention
	// LastAffectedEnd is the end offset of the last removed mention,
	// or -1 when nothing was removed.
	LastAffectedEnd int
	// NetLengthDelta is the rune-length change the removals imply for the
	// composer text: minus the total length of the removed display spans.
	NetLengthDelta int
}

// Segment is a run of composer text, either plain or a single mention.
type Segment struct {
	Text   string
	UserID string // empty for plain text
}

// IsMention reports whether the segment displays a mention.
func (s Segment) IsMention() bool {
	return s.UserID != ""
}

// Tracker recognizes mention searches for a configured trigger sequence.
// Operations that do not depend on the trigger are package functions.
type Tracker struct {
	trigger string
}

// NewTracker returns a Tracker for the given trigger sequence.
// An empty trigger falls back to DefaultTrigger.
func NewTracker(trigger string) *Tracker {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	return &Tracker{trigger: trigger}
}

// Trigger returns the trigger sequence the tracker recognizes.
func (t *Tracker) Trigger() string {
	return t.trigger
}
