package chatsdk

import (
	"context"
	"errors"
)

// ErrCollectionDisposed is returned by collection loads after Dispose.
var ErrCollectionDisposed = errors.New("chatsdk: message collection disposed")

// DefaultLimit is the page size a collection uses when params leave it zero.
const DefaultLimit = 100

// InitPolicy selects how a collection reconciles local cache with server
// truth during initialization.
type InitPolicy string

// InitPolicyCacheAndReplaceByAPI delivers the cached window first, then
// replaces it with the server's window once the API answers.
const InitPolicyCacheAndReplaceByAPI InitPolicy = "cache_and_replace_by_api"

// CollectionParams configures a new message collection.
type CollectionParams struct {
	// Limit is the page size; DefaultLimit when zero.
	Limit int
	// StartingPoint is the unix-millisecond timestamp the window opens
	// around; the current time when zero.
	StartingPoint int64
	// Filter narrows loaded messages and applied events.
	Filter MessageFilter
}

// InitHandler receives the two snapshots of a cache-then-server
// initialization, cache strictly first. Implementations deliver both
// callbacks asynchronously, never from inside Initialize itself.
type InitHandler struct {
	OnCacheResult func(msgs []Message, err error)
	OnAPIResult   func(msgs []Message, err error)
}

// CollectionHandler receives realtime events for a live collection. All
// funcs are optional; nil handlers are skipped.
type CollectionHandler struct {
	OnMessagesAdded   func(ch Channel, msgs []Message)
	OnMessagesUpdated func(ch Channel, msgs []Message)
	OnMessagesDeleted func(ch Channel, msgs []Message)
	OnChannelUpdated  func(ch Channel)
	OnChannelDeleted  func(channelURL string)
	OnGapDetected     func()
}

// MessageCollection is the SDK's windowed, event-fed view of one channel's
// messages. A collection is single-use: once disposed it ignores every
// operation and stops delivering events.
type MessageCollection interface {
	// Initialize loads the window under the given policy. Callbacks fire
	// in policy order and are never invoked after Dispose.
	Initialize(policy InitPolicy, h InitHandler)

	// SetEventHandler registers the realtime feed. Replacing the handler
	// replaces the previous registration.
	SetEventHandler(h CollectionHandler)

	LoadPrevious(ctx context.Context) ([]Message, error)
	LoadNext(ctx context.Context) ([]Message, error)
	HasPrevious() bool
	HasNext() bool

	// PendingMessages and FailedMessages report this client's outstanding
	// optimistic sends known to the SDK.
	PendingMessages() []Message
	FailedMessages() []Message

	Dispose()
}

// CollectionFactory builds a collection for a channel. The synchronizer
// calls it once per session start and owns the result until Dispose.
type CollectionFactory func(ch Channel, params CollectionParams) (MessageCollection, error)
