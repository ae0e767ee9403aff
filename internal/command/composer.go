package command

import (
	"sort"
	"unicode"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/mention"
)

// defaultRoster maps mention queries to the simulated peers' user ids.
var defaultRoster = map[string]string{
	"ada": "u-ada",
	"lin": "u-lin",
	"sam": "u-sam",
}

// locateMentions finds roster mentions in a finished line by replaying the
// composer's active-search scan at every token end.
func locateMentions(line string, t *mention.Tracker, roster map[string]string) []mention.Mention {
	runes := []rune(line)
	var found []mention.Mention
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && !unicode.IsSpace(runes[i]) {
			continue
		}
		s := t.LocateActiveSearch(line, i)
		if !s.Triggered || !s.Valid || s.Query == "" {
			continue
		}
		id, ok := roster[s.Query]
		if !ok {
			continue
		}
		found = append(found, mention.Mention{
			UserID:  id,
			Display: t.Trigger() + s.Query,
			Span:    t.RangeOfActiveSearch(i, s.Query),
		})
	}
	return found
}

// composeUserMessage builds send params for a line, attaching mention ids and
// the wire-form template when the line mentions anyone.
func composeUserMessage(line string, t *mention.Tracker, roster map[string]string) chatsdk.UserMessageParams {
	params := chatsdk.UserMessageParams{Body: line}
	found := locateMentions(line, t, roster)
	if len(found) == 0 {
		return params
	}

	seen := make(map[string]bool, len(found))
	for _, m := range found {
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		params.MentionedUserIDs = append(params.MentionedUserIDs, m.UserID)
	}
	params.MentionTemplate = t.Template(line, found)
	return params
}

// rosterMatches returns the roster queries with the given prefix, sorted.
// An empty prefix matches everyone.
func rosterMatches(roster map[string]string, prefix string) []string {
	var names []string
	for name := range roster {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
