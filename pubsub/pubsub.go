// Package pubsub broadcasts channel lifecycle events so component trees can
// react to channels changing or disappearing without holding the
// synchronizer that observed it.
package pubsub

import (
	"sync"

	"github.com/ferrowell/parley/chatsdk"
)

// Event is a channel lifecycle notification.
type Event interface {
	// EventChannelURL names the channel the event concerns.
	EventChannelURL() string
}

// ChannelUpdated announces that the channel's metadata changed. Carries the
// fresh channel reference; holders of the old one should swap.
type ChannelUpdated struct {
	Channel chatsdk.Channel
}

func (e ChannelUpdated) EventChannelURL() string { return e.Channel.URL() }

// ChannelDeleted announces that the channel no longer exists.
type ChannelDeleted struct {
	ChannelURL string
}

func (e ChannelDeleted) EventChannelURL() string { return e.ChannelURL }

// Hub fans events out to subscribers. Publishing never blocks: subscribers
// whose buffers are full miss the event, so a slow consumer cannot stall
// the event loop that publishes.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given buffer size (minimum 1).
// The cancel func removes the subscription and closes the channel; it is
// safe to call more than once. Subscribing to a closed hub yields an
// already-closed channel.
func (h *Hub) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan Event, buf)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with buffer room.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close drops every subscriber and closes their channels. Publish and
// Subscribe after Close are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
