package simsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"
)

// Collection implements chatsdk.MessageCollection over a server feed plus an
// optional client-side SQLite cache.
type Collection struct {
	log    *zap.Logger
	srv    *Server
	cache  *Cache
	ch     chatsdk.Channel // the subscriber's own handle, user binding intact
	url    string
	limit  int
	start  int64
	filter chatsdk.MessageFilter
	feed   *feed

	mu       sync.Mutex
	handler  chatsdk.CollectionHandler
	oldest   cursor
	newest   cursor
	hasPrev  bool
	hasNext  bool
	disposed bool
}

// Collections returns a factory producing collections positioned per the
// params. cache may be nil; collections then run without local persistence.
func (s *Server) Collections(cache *Cache, log *zap.Logger) chatsdk.CollectionFactory {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ch chatsdk.Channel, p chatsdk.CollectionParams) (chatsdk.MessageCollection, error) {
		if ch == nil {
			return nil, errors.New("simsdk: nil channel")
		}
		f, err := s.register(ch.URL())
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
		limit := p.Limit
		if limit <= 0 {
			limit = chatsdk.DefaultLimit
		}
		start := p.StartingPoint
		if start <= 0 {
			start = time.Now().UnixMilli()
		}
		c := &Collection{
			log:    log,
			srv:    s,
			cache:  cache,
			ch:     ch,
			url:    ch.URL(),
			limit:  limit,
			start:  start,
			filter: p.Filter,
			feed:   f,
		}
		go c.pump()
		return c, nil
	}
}

// Initialize delivers the cached window first, then server truth, both on
// one goroutine so the cache callback always lands before the API callback.
func (c *Collection) Initialize(_ chatsdk.InitPolicy, h chatsdk.InitHandler) {
	go c.initialize(h)
}

func (c *Collection) initialize(h chatsdk.InitHandler) {
	if c.isDisposed() {
		return
	}

	cached, err := c.readCache()
	if h.OnCacheResult != nil {
		h.OnCacheResult(cached, err)
	}

	page, hasPrev, hasNext, err := c.srv.initialWindow(c.url, c.start, c.limit, c.filter)
	if err != nil {
		if h.OnAPIResult != nil {
			h.OnAPIResult(nil, fmt.Errorf("initialize: %w", err))
		}
		return
	}
	c.persist(page)

	c.mu.Lock()
	if len(page) > 0 {
		c.oldest = cursorOf(page[0])
		c.newest = cursorOf(page[len(page)-1])
	} else {
		bound := boundAt(c.start)
		c.oldest, c.newest = bound, bound
	}
	c.hasPrev, c.hasNext = hasPrev, hasNext
	disposed := c.disposed
	c.mu.Unlock()

	if disposed {
		return
	}
	if h.OnAPIResult != nil {
		h.OnAPIResult(page, nil)
	}
}

func (c *Collection) SetEventHandler(h chatsdk.CollectionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Collection) LoadPrevious(ctx context.Context) ([]chatsdk.Message, error) {
	if c.isDisposed() {
		return nil, chatsdk.ErrCollectionDisposed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cur := c.oldest
	c.mu.Unlock()

	page, more, err := c.srv.pageBefore(c.url, cur, c.limit, c.filter)
	if err != nil {
		return nil, fmt.Errorf("load previous: %w", err)
	}
	c.persist(page)

	c.mu.Lock()
	if len(page) > 0 {
		c.oldest = cursorOf(page[0])
	}
	c.hasPrev = more
	c.mu.Unlock()
	return page, nil
}

func (c *Collection) LoadNext(ctx context.Context) ([]chatsdk.Message, error) {
	if c.isDisposed() {
		return nil, chatsdk.ErrCollectionDisposed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cur := c.newest
	c.mu.Unlock()

	page, more, err := c.srv.pageAfter(c.url, cur, c.limit, c.filter)
	if err != nil {
		return nil, fmt.Errorf("load next: %w", err)
	}
	c.persist(page)

	c.mu.Lock()
	if len(page) > 0 {
		c.newest = cursorOf(page[len(page)-1])
	}
	c.hasNext = more
	c.mu.Unlock()
	return page, nil
}

func (c *Collection) HasPrevious() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPrev
}

func (c *Collection) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasNext
}

func (c *Collection) PendingMessages() []chatsdk.Message {
	if c.isDisposed() {
		return nil
	}
	pending, _ := c.srv.outstanding(c.url)
	return pending
}

func (c *Collection) FailedMessages() []chatsdk.Message {
	if c.isDisposed() {
		return nil
	}
	_, failed := c.srv.outstanding(c.url)
	return failed
}

// Dispose unregisters the event feed. Every later operation on the
// collection is a no-op.
func (c *Collection) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()
	c.srv.unregister(c.url, c.feed)
}

func (c *Collection) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// pump drains the feed serially so events reach the handler in transport
// order.
func (c *Collection) pump() {
	for {
		select {
		case <-c.feed.done:
			return
		case <-c.feed.gap:
			c.dispatchGap()
		case ev := <-c.feed.events:
			c.dispatch(ev)
		}
	}
}

func (c *Collection) dispatch(ev feedEvent) {
	c.mu.Lock()
	h := c.handler
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return
	}

	// Handlers get the subscriber's own channel handle, never a fanout
	// copy: the handle carries the user binding sends and receipts need.
	switch ev.kind {
	case feedAdded:
		msgs := c.filtered(ev.msgs)
		if len(msgs) == 0 {
			return
		}
		c.persist(msgs)
		if h.OnMessagesAdded != nil {
			h.OnMessagesAdded(c.ch, msgs)
		}
	case feedUpdated:
		msgs := c.filtered(ev.msgs)
		if len(msgs) == 0 {
			return
		}
		c.persist(msgs)
		if h.OnMessagesUpdated != nil {
			h.OnMessagesUpdated(c.ch, msgs)
		}
	case feedDeleted:
		c.unpersist(ev.msgs)
		if h.OnMessagesDeleted != nil {
			h.OnMessagesDeleted(c.ch, ev.msgs)
		}
	case feedChannelUpdated:
		if h.OnChannelUpdated != nil {
			h.OnChannelUpdated(c.ch)
		}
	case feedChannelDeleted:
		if h.OnChannelDeleted != nil {
			h.OnChannelDeleted(ev.url)
		}
	}
}

func (c *Collection) dispatchGap() {
	c.mu.Lock()
	h := c.handler
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return
	}
	if h.OnGapDetected != nil {
		h.OnGapDetected()
	}
}

func (c *Collection) filtered(msgs []chatsdk.Message) []chatsdk.Message {
	if c.filter.Empty() {
		return msgs
	}
	var out []chatsdk.Message
	for _, m := range msgs {
		if c.filter.Match(m) {
			out = append(out, m)
		}
	}
	return out
}

func (c *Collection) readCache() ([]chatsdk.Message, error) {
	if c.cache == nil {
		return nil, nil
	}
	msgs, err := c.cache.Window(c.url, c.start, c.limit)
	if err != nil {
		return nil, fmt.Errorf("cache window: %w", err)
	}
	return c.filtered(msgs), nil
}

func (c *Collection) persist(msgs []chatsdk.Message) {
	if c.cache == nil || len(msgs) == 0 {
		return
	}
	if err := c.cache.Put(c.url, msgs); err != nil {
		c.log.Warn("cache write failed", zap.String("channel_url", c.url), zap.Error(err))
	}
}

func (c *Collection) unpersist(msgs []chatsdk.Message) {
	if c.cache == nil || len(msgs) == 0 {
		return
	}
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if m.Confirmed() {
			ids = append(ids, m.MessageID)
		}
	}
	if err := c.cache.Delete(c.url, ids); err != nil {
		c.log.Warn("cache delete failed", zap.String("channel_url", c.url), zap.Error(err))
	}
}
