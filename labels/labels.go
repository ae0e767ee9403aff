// Package labels is the string-lookup surface UI components read their
// user-facing text through. The data core never renders; it exposes keys,
// map-backed tables, and locale negotiation so a component tree can resolve
// display strings for whatever locale its user runs.
package labels

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Key names one user-facing string.
type Key string

// Keys surfaced by the message data layer.
const (
	KeyMessageSending Key = "message.sending"
	KeyMessageFailed  Key = "message.failed"
	KeyMessageRetry   Key = "message.retry"
	KeyMessageDeleted Key = "message.deleted"
	KeyNewMessages    Key = "channel.new_messages"
	KeyChannelLoading Key = "channel.loading"
	KeyChannelGone    Key = "channel.gone"
	KeyMentionNobody  Key = "mention.no_matches"
)

// Source resolves keys to display strings.
type Source interface {
	Get(Key) string
}

// Table is a map-backed Source. A missing key resolves to the key text
// itself, so a hole in a translation is visible rather than blank.
type Table map[Key]string

func (t Table) Get(k Key) string {
	if s, ok := t[k]; ok {
		return s
	}
	return string(k)
}

// english is the builtin fallback table.
var english = Table{
	KeyMessageSending: "Sending...",
	KeyMessageFailed:  "Couldn't send. Tap to retry.",
	KeyMessageRetry:   "Retry",
	KeyMessageDeleted: "This message was deleted.",
	KeyNewMessages:    "New messages",
	KeyChannelLoading: "Loading messages...",
	KeyChannelGone:    "This channel no longer exists.",
	KeyMentionNobody:  "No matches",
}

// English returns the builtin fallback table.
func English() Source { return english }

// Catalog negotiates between registered per-locale Sources. English is
// always registered and is the fallback for every unmatched request.
type Catalog struct {
	mu      sync.RWMutex
	tags    []language.Tag
	sources []Source
	matcher language.Matcher
}

// NewCatalog returns a catalog holding only the builtin English table.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.tags = []language.Tag{language.English}
	c.sources = []Source{english}
	c.matcher = language.NewMatcher(c.tags)
	return c
}

// Register adds or replaces the Source for a locale.
func (c *Catalog) Register(tag language.Tag, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tags {
		if t == tag {
			c.sources[i] = src
			return
		}
	}
	c.tags = append(c.tags, tag)
	c.sources = append(c.sources, src)
	c.matcher = language.NewMatcher(c.tags)
}

// Pick returns the best-matching Source for the preferred locales, in
// Accept-Language form or plain tags. No match, or no preference at all,
// falls back to English.
func (c *Catalog) Pick(preferred ...string) Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(preferred) == 0 {
		return c.sources[0]
	}
	tags, _, err := language.ParseAcceptLanguage(strings.Join(preferred, ","))
	if err != nil || len(tags) == 0 {
		return c.sources[0]
	}
	// The index identifies the registered tag; the returned tag may differ.
	_, i, conf := c.matcher.Match(tags...)
	if conf == language.No {
		return c.sources[0]
	}
	return c.sources[i]
}
