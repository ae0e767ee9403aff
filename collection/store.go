// Package collection keeps a channel's message window synchronized: a
// partitioned message store, a synchronizer that drives an SDK message
// collection through load, pagination, realtime merge, and optimistic
// sends, and a receipt scheduler.
package collection

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ferrowell/parley/chatsdk"
)

// Comparator orders the loaded window. Negative means a sorts before b.
type Comparator func(a, b chatsdk.Message) int

// CompareCreatedAt is the default order: creation time ascending, ties
// broken by server id then request id so equal-timestamp messages keep a
// deterministic order.
func CompareCreatedAt(a, b chatsdk.Message) int {
	switch {
	case a.CreatedAt < b.CreatedAt:
		return -1
	case a.CreatedAt > b.CreatedAt:
		return 1
	}
	switch {
	case a.MessageID < b.MessageID:
		return -1
	case a.MessageID > b.MessageID:
		return 1
	}
	return strings.Compare(a.RequestID, b.RequestID)
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Compare orders the current window. Nil means CompareCreatedAt.
	Compare Comparator
}

// Store holds the two partitions of a message view: current, the loaded
// window sorted by the comparator, and next, realtime arrivals waiting
// below the viewport in arrival order. Message identity is unique across
// both partitions combined.
//
// Store is not safe for concurrent use; the synchronizer confines it to
// its event loop.
type Store struct {
	compare Comparator
	current partition
	next    partition
}

// NewStore returns an empty store.
func NewStore(opts StoreOptions) *Store {
	cmp := opts.Compare
	if cmp == nil {
		cmp = CompareCreatedAt
	}
	return &Store{
		compare: cmp,
		current: newPartition(),
		next:    newPartition(),
	}
}

// SetCurrent replaces the window wholesale, or upserts into it: entries
// matching an incoming identity are overwritten in place, new entries are
// appended, and one stable sort pass runs at the end. Either way the
// incoming identities are withdrawn from the next partition first, keeping
// identity unique across the store.
func (s *Store) SetCurrent(msgs []chatsdk.Message, replace bool) {
	if replace {
		s.current.reset(msgs)
	} else {
		if len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			s.current.put(m)
		}
	}
	for _, m := range msgs {
		s.next.removeMatching(m)
	}
	s.current.sortStable(s.compare)
}

// SetNext replaces the arrival tray wholesale, or merges into it. Merged
// messages whose identity already lives in the current window update that
// window in place instead, so an echoed or edited message never appears
// twice. Replacing with an empty slice empties the tray, which clears the
// new-messages indicator.
func (s *Store) SetNext(msgs []chatsdk.Message, replace bool) {
	if replace {
		s.next.reset(msgs)
		for _, m := range msgs {
			s.current.removeMatching(m)
		}
		return
	}
	for _, m := range msgs {
		if s.current.lookup(m) >= 0 {
			s.current.put(m)
			s.current.sortStable(s.compare)
			continue
		}
		s.next.put(m)
	}
}

// RemoveByIdentity deletes messages from both partitions by server id and
// by request id. Unknown identities are ignored.
func (s *Store) RemoveByIdentity(messageIDs []int64, requestIDs []string) {
	for _, id := range messageIDs {
		key := confirmedKey(id)
		s.current.removeKey(key)
		s.next.removeKey(key)
	}
	for _, rid := range requestIDs {
		if rid == "" {
			continue
		}
		key := requestKey(rid)
		s.current.removeKey(key)
		s.next.removeKey(key)
	}
}

// Current returns a copy of the loaded window in comparator order.
func (s *Store) Current() []chatsdk.Message {
	return s.current.snapshot()
}

// Next returns a copy of the arrival tray in arrival order.
func (s *Store) Next() []chatsdk.Message {
	return s.next.snapshot()
}

// HasNewMessages reports whether the tray holds a delivered message from
// anyone other than the viewer. The viewer's own echoes never light the
// indicator.
func (s *Store) HasNewMessages(viewerID string) bool {
	for _, m := range s.next.msgs {
		if m.SenderID != viewerID && m.Status == chatsdk.SendStatusSucceeded {
			return true
		}
	}
	return false
}

// identity index keys; a message answers to up to two.

func confirmedKey(id int64) string {
	return "m:" + strconv.FormatInt(id, 10)
}

func requestKey(rid string) string {
	return "r:" + rid
}

func keysOf(m chatsdk.Message) []string {
	keys := make([]string, 0, 2)
	if m.Confirmed() {
		keys = append(keys, confirmedKey(m.MessageID))
	}
	if m.RequestID != "" {
		keys = append(keys, requestKey(m.RequestID))
	}
	return keys
}

// partition is an indexed arena: a message slice plus an identity index so
// upserts and removals are map lookups instead of linear scans.
type partition struct {
	msgs  []chatsdk.Message
	index map[string]int
}

func newPartition() partition {
	return partition{index: make(map[string]int)}
}

// lookup returns the position holding m's identity, or -1.
func (p *partition) lookup(m chatsdk.Message) int {
	for _, k := range keysOf(m) {
		if i, ok := p.index[k]; ok {
			return i
		}
	}
	return -1
}

// put overwrites the entry matching m's identity in place, or appends.
// A message answers to up to two identity keys; when each key names a
// different entry (a confirmed copy landing on a pending one plus a bare
// server copy), the extras collapse into the first so no identity is ever
// stored twice.
func (p *partition) put(m chatsdk.Message) {
	first := -1
	for _, k := range keysOf(m) {
		i, ok := p.index[k]
		if !ok {
			continue
		}
		if first == -1 {
			first = i
			continue
		}
		if i != first {
			p.removeAt(i)
			if i < first {
				first--
			}
		}
	}

	if first == -1 {
		p.msgs = append(p.msgs, m)
		p.indexAt(m, len(p.msgs)-1)
		return
	}
	p.unindex(p.msgs[first])
	p.msgs[first] = m
	p.indexAt(m, first)
}

// removeMatching deletes the entry matching m's identity, if any.
func (p *partition) removeMatching(m chatsdk.Message) {
	if i := p.lookup(m); i >= 0 {
		p.removeAt(i)
	}
}

// removeKey deletes the entry holding the given identity key, if any.
func (p *partition) removeKey(key string) {
	if i, ok := p.index[key]; ok {
		p.removeAt(i)
	}
}

func (p *partition) removeAt(i int) {
	p.unindex(p.msgs[i])
	p.msgs = append(p.msgs[:i], p.msgs[i+1:]...)
	for j := i; j < len(p.msgs); j++ {
		p.indexAt(p.msgs[j], j)
	}
}

// reset replaces the contents, deduplicating the input by identity.
func (p *partition) reset(msgs []chatsdk.Message) {
	p.msgs = nil
	p.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		p.put(m)
	}
}

func (p *partition) sortStable(cmp Comparator) {
	sort.SliceStable(p.msgs, func(i, j int) bool {
		return cmp(p.msgs[i], p.msgs[j]) < 0
	})
	for i, m := range p.msgs {
		p.indexAt(m, i)
	}
}

func (p *partition) indexAt(m chatsdk.Message, i int) {
	for _, k := range keysOf(m) {
		p.index[k] = i
	}
}

func (p *partition) unindex(m chatsdk.Message) {
	for _, k := range keysOf(m) {
		delete(p.index, k)
	}
}

func (p *partition) snapshot() []chatsdk.Message {
	out := make([]chatsdk.Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}
