// Package simsdk is an in-process stand-in for a vendor chat SDK: an
// authoritative in-memory server, per-user channel handles, and message
// collections backed by a SQLite cache. Integration tests and the demo
// binary drive the collection synchronizer through it.
package simsdk

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"
)

// ErrNoSuchChannel reports an operation against an unknown or deleted channel.
var ErrNoSuchChannel = errors.New("simsdk: no such channel")

const feedBuffer = 64

// cursor is a message position: creation time with the server id as the
// tie break, the same compound order every window query uses.
type cursor struct {
	ts int64
	id int64
}

func cursorOf(m chatsdk.Message) cursor {
	return cursor{ts: m.CreatedAt, id: m.MessageID}
}

func (c cursor) before(o cursor) bool {
	return c.ts < o.ts || (c.ts == o.ts && c.id < o.id)
}

// boundAt covers every message stamped at or before ts.
func boundAt(ts int64) cursor {
	return cursor{ts: ts, id: math.MaxInt64}
}

// Server is the authoritative message log. All server state is in memory;
// durable caching lives client-side in Collection.
type Server struct {
	mu       sync.Mutex
	log      *zap.Logger
	channels map[string]*channelState
	offline  bool
}

type channelState struct {
	url         string
	name        string
	kind        chatsdk.ChannelKind
	customType  string
	seq         int64
	msgs        []chatsdk.Message          // ascending (created_at, message_id)
	byRequest   map[string]int64           // send dedupe: request id -> message id
	outbox      map[string]chatsdk.Message // local client's unresolved sends
	sendErr     error                      // injected send failure
	feeds       map[int]*feed
	nextFeed    int
	deliveredAt map[string]int64
	readAt      map[string]int64
}

func newChannelState(url, name string, kind chatsdk.ChannelKind) *channelState {
	return &channelState{
		url:         url,
		name:        name,
		kind:        kind,
		byRequest:   make(map[string]int64),
		outbox:      make(map[string]chatsdk.Message),
		feeds:       make(map[int]*feed),
		deliveredAt: make(map[string]int64),
		readAt:      make(map[string]int64),
	}
}

// NewServer returns an empty server. A nil logger is normalized to a nop.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, channels: make(map[string]*channelState)}
}

// CreateChannel registers a channel and returns its URL.
func (s *Server) CreateChannel(name string, kind chatsdk.ChannelKind) (string, error) {
	url, err := newChannelURL()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[url] = newChannelState(url, name, kind)
	s.log.Debug("channel created", zap.String("channel_url", url), zap.String("name", name))
	return url, nil
}

// CreateChannelAt registers a channel under a caller-chosen URL, for callers
// that need the URL stable across runs. Registering an existing URL is a
// no-op.
func (s *Server) CreateChannelAt(url, name string, kind chatsdk.ChannelKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[url]; ok {
		return
	}
	s.channels[url] = newChannelState(url, name, kind)
	s.log.Debug("channel created", zap.String("channel_url", url), zap.String("name", name))
}

// Join returns a channel handle bound to a user.
func (s *Server) Join(url, userID string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[url]; !ok {
		return nil, ErrNoSuchChannel
	}
	return &Channel{srv: s, url: url, userID: userID}, nil
}

// Post stores a user message as an arbitrary participant and fans it out.
// at == 0 stamps it now.
func (s *Server) Post(url, senderID, body string, at int64) (chatsdk.Message, error) {
	return s.accept(url, chatsdk.Message{
		Type:       chatsdk.MessageTypeUser,
		ChannelURL: url,
		SenderID:   senderID,
		Body:       body,
		CreatedAt:  at,
	})
}

// PostAdmin stores an admin notice.
func (s *Server) PostAdmin(url, body string, at int64) (chatsdk.Message, error) {
	return s.accept(url, chatsdk.Message{
		Type:       chatsdk.MessageTypeAdmin,
		ChannelURL: url,
		Body:       body,
		CreatedAt:  at,
	})
}

// accept assigns identity, stores, and fans out. A send carrying an already
// accepted request id returns the stored copy instead of a duplicate.
func (s *Server) accept(url string, m chatsdk.Message) (chatsdk.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return chatsdk.Message{}, ErrNoSuchChannel
	}

	if m.RequestID != "" {
		if id, ok := st.byRequest[m.RequestID]; ok {
			if i := st.find(id); i >= 0 {
				return st.msgs[i], nil
			}
		}
	}

	st.seq++
	m.MessageID = st.seq
	m.ChannelURL = url
	m.Status = chatsdk.SendStatusSucceeded
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	st.insert(m)
	if m.RequestID != "" {
		st.byRequest[m.RequestID] = m.MessageID
	}
	s.fanoutLocked(st, feedEvent{kind: feedAdded, msgs: []chatsdk.Message{m}})
	return m, nil
}

// UpdateMessage edits a stored message's body and fans out the edit.
func (s *Server) UpdateMessage(url string, id int64, body string) (chatsdk.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return chatsdk.Message{}, ErrNoSuchChannel
	}
	i := st.find(id)
	if i < 0 {
		return chatsdk.Message{}, errors.New("simsdk: message not found")
	}
	st.msgs[i].Body = body
	st.msgs[i].UpdatedAt = time.Now().UnixMilli()
	m := st.msgs[i]
	s.fanoutLocked(st, feedEvent{kind: feedUpdated, msgs: []chatsdk.Message{m}})
	return m, nil
}

// DeleteMessage removes a stored message and fans out the deletion.
func (s *Server) DeleteMessage(url string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	i := st.find(id)
	if i < 0 {
		return errors.New("simsdk: message not found")
	}
	m := st.msgs[i]
	st.msgs = append(st.msgs[:i], st.msgs[i+1:]...)
	if m.RequestID != "" {
		delete(st.byRequest, m.RequestID)
	}
	s.fanoutLocked(st, feedEvent{kind: feedDeleted, msgs: []chatsdk.Message{m}})
	return nil
}

// RenameChannel updates channel metadata and fans out the change.
func (s *Server) RenameChannel(url, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	st.name = name
	s.fanoutLocked(st, feedEvent{kind: feedChannelUpdated})
	return nil
}

// DeleteChannel removes the channel after announcing the deletion.
func (s *Server) DeleteChannel(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	s.fanoutLocked(st, feedEvent{kind: feedChannelDeleted, url: url})
	for _, f := range st.feeds {
		f.close()
	}
	delete(s.channels, url)
	return nil
}

// FailSends injects a send failure for a channel. nil clears it.
func (s *Server) FailSends(url string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	st.sendErr = err
	return nil
}

// Disconnect stops event delivery to every registered collection, modeling
// a dropped event transport. The message log keeps accepting writes.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = true
	for _, st := range s.channels {
		for _, f := range st.feeds {
			f.stale = true
		}
	}
	s.log.Info("event transport disconnected")
}

// Reconnect resumes delivery. Collections that went stale are handed a gap
// signal so their owner reinitializes.
func (s *Server) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = false
	for _, st := range s.channels {
		for _, f := range st.feeds {
			if f.stale {
				f.latchGap()
			}
		}
	}
	s.log.Info("event transport reconnected")
}

func (s *Server) markDelivered(url, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	st.deliveredAt[userID] = time.Now().UnixMilli()
	return nil
}

func (s *Server) markRead(url, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	now := time.Now().UnixMilli()
	st.deliveredAt[userID] = now
	st.readAt[userID] = now
	return nil
}

// ReadReceipts returns each member's last read time for a channel.
func (s *Server) ReadReceipts(url string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return nil, ErrNoSuchChannel
	}
	out := make(map[string]int64, len(st.readAt))
	for user, ts := range st.readAt {
		out[user] = ts
	}
	return out, nil
}

// initialWindow returns the latest limit messages at or before start, plus
// whether pages exist on either side.
func (s *Server) initialWindow(url string, start int64, limit int, f chatsdk.MessageFilter) ([]chatsdk.Message, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return nil, false, false, ErrNoSuchChannel
	}
	bound := boundAt(start)
	page, hasPrev := st.pageBefore(bound, limit, f)
	return page, hasPrev, st.anyAfter(bound, f), nil
}

func (s *Server) pageBefore(url string, cur cursor, limit int, f chatsdk.MessageFilter) ([]chatsdk.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return nil, false, ErrNoSuchChannel
	}
	page, more := st.pageBefore(cur, limit, f)
	return page, more, nil
}

func (s *Server) pageAfter(url string, cur cursor, limit int, f chatsdk.MessageFilter) ([]chatsdk.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return nil, false, ErrNoSuchChannel
	}
	page, more := st.pageAfter(cur, limit, f)
	return page, more, nil
}

func (s *Server) channelMeta(url string) (name, customType string, kind chatsdk.ChannelKind, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.channels[url]
	if !found {
		return "", "", "", false
	}
	return st.name, st.customType, st.kind, true
}

func (s *Server) sendFault(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return ErrNoSuchChannel
	}
	return st.sendErr
}

func (s *Server) trackSend(url string, m chatsdk.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.channels[url]; ok {
		st.outbox[m.RequestID] = m
	}
}

func (s *Server) settleSend(url, requestID string, delivered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return
	}
	if delivered {
		delete(st.outbox, requestID)
		return
	}
	if m, ok := st.outbox[requestID]; ok {
		m.Status = chatsdk.SendStatusFailed
		st.outbox[requestID] = m
	}
}

// outstanding returns the channel's unresolved sends split by status, in
// send order.
func (s *Server) outstanding(url string) (pending, failed []chatsdk.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return nil, nil
	}
	all := make([]chatsdk.Message, 0, len(st.outbox))
	for _, m := range st.outbox {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].RequestID < all[j].RequestID
	})
	for _, m := range all {
		if m.Status == chatsdk.SendStatusFailed {
			failed = append(failed, m)
		} else {
			pending = append(pending, m)
		}
	}
	return pending, failed
}

func (s *Server) register(url string) (*feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[url]
	if !ok {
		return nil, ErrNoSuchChannel
	}
	f := newFeed(st.nextFeed)
	st.nextFeed++
	st.feeds[f.id] = f
	if s.offline {
		f.stale = true
	}
	return f, nil
}

func (s *Server) unregister(url string, f *feed) {
	s.mu.Lock()
	if st, ok := s.channels[url]; ok {
		delete(st.feeds, f.id)
	}
	s.mu.Unlock()
	f.close()
}

// fanoutLocked delivers an event to every live feed without ever blocking:
// a feed whose buffer is full can no longer trust its window, so it goes
// stale and gets the gap signal instead.
func (s *Server) fanoutLocked(st *channelState, ev feedEvent) {
	for _, f := range st.feeds {
		if f.stale {
			continue
		}
		select {
		case f.events <- ev:
		default:
			f.stale = true
			f.latchGap()
			s.log.Warn("feed overflow, marking stale", zap.String("channel_url", st.url))
		}
	}
}

// channelState helpers; all run under Server.mu.

func (st *channelState) find(id int64) int {
	for i, m := range st.msgs {
		if m.MessageID == id {
			return i
		}
	}
	return -1
}

func (st *channelState) insert(m chatsdk.Message) {
	c := cursorOf(m)
	i := sort.Search(len(st.msgs), func(i int) bool {
		return c.before(cursorOf(st.msgs[i]))
	})
	st.msgs = append(st.msgs, chatsdk.Message{})
	copy(st.msgs[i+1:], st.msgs[i:])
	st.msgs[i] = m
}

// pageBefore returns up to limit messages strictly before cur in ascending
// order, probing one past the limit for has-more.
func (st *channelState) pageBefore(cur cursor, limit int, f chatsdk.MessageFilter) ([]chatsdk.Message, bool) {
	var page []chatsdk.Message
	for i := len(st.msgs) - 1; i >= 0 && len(page) <= limit; i-- {
		m := st.msgs[i]
		if !cursorOf(m).before(cur) {
			continue
		}
		if !f.Match(m) {
			continue
		}
		page = append(page, m)
	}
	more := false
	if len(page) > limit {
		more = true
		page = page[:limit]
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, more
}

// pageAfter returns up to limit messages strictly after cur in ascending
// order, probing one past the limit for has-more.
func (st *channelState) pageAfter(cur cursor, limit int, f chatsdk.MessageFilter) ([]chatsdk.Message, bool) {
	var page []chatsdk.Message
	for _, m := range st.msgs {
		if len(page) > limit {
			break
		}
		if !cur.before(cursorOf(m)) {
			continue
		}
		if !f.Match(m) {
			continue
		}
		page = append(page, m)
	}
	more := false
	if len(page) > limit {
		more = true
		page = page[:limit]
	}
	return page, more
}

func (st *channelState) anyAfter(cur cursor, f chatsdk.MessageFilter) bool {
	for i := len(st.msgs) - 1; i >= 0; i-- {
		m := st.msgs[i]
		if !cur.before(cursorOf(m)) {
			return false
		}
		if f.Match(m) {
			return true
		}
	}
	return false
}

// feed event plumbing.

type feedKind int

const (
	feedAdded feedKind = iota
	feedUpdated
	feedDeleted
	feedChannelUpdated
	feedChannelDeleted
)

type feedEvent struct {
	kind feedKind
	msgs []chatsdk.Message
	url  string
}

// feed is one collection's serial event pipe. Events for a collection apply
// in transport order because exactly one pump goroutine drains the pipe.
type feed struct {
	id     int
	events chan feedEvent
	gap    chan struct{}
	done   chan struct{}
	once   sync.Once
	stale  bool // guarded by Server.mu
}

func newFeed(id int) *feed {
	return &feed{
		id:     id,
		events: make(chan feedEvent, feedBuffer),
		gap:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (f *feed) latchGap() {
	select {
	case f.gap <- struct{}{}:
	default:
	}
}

func (f *feed) close() {
	f.once.Do(func() { close(f.done) })
}
