package collection

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/pubsub"
)

// State is the synchronizer lifecycle phase.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateLive          State = "live"
	StateDisposed      State = "disposed"
)

// Snapshot is an immutable view of the synchronized window. The slices are
// copies; callers may keep or mutate them freely.
type Snapshot struct {
	State               State
	Loading             bool
	Refreshing          bool
	Messages            []chatsdk.Message
	NextMessages        []chatsdk.Message
	NewMessagesFromNext bool
	ActiveChannel       chatsdk.Channel
}

// DefaultQueueSize bounds the synchronizer's event queue.
const DefaultQueueSize = 256

// Options configures a Synchronizer.
type Options struct {
	// Channel is the channel to synchronize. Required.
	Channel chatsdk.Channel
	// Factory builds the SDK message collection per session. Required.
	Factory chatsdk.CollectionFactory
	// Params configures created collections. Zero values get defaults:
	// DefaultLimit pages opening at the current time with an empty filter.
	Params chatsdk.CollectionParams
	// Store configures the message store.
	Store StoreOptions
	// Hub receives ChannelUpdated and ChannelDeleted broadcasts. When nil
	// the synchronizer creates and owns one, closing it on Dispose.
	Hub *pubsub.Hub
	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
	// ReceiptInterval is the receipt debounce window, DefaultReceiptInterval
	// when zero.
	ReceiptInterval time.Duration
	// QueueSize bounds the event queue, DefaultQueueSize when zero.
	QueueSize int
}

// Synchronizer keeps one channel's message window in sync with the SDK:
// it loads cache then server truth, merges realtime events, paginates, and
// resolves optimistic sends. All state lives on a single event loop; public
// methods only post events, so they are safe to call from any goroutine.
type Synchronizer struct {
	log      *zap.Logger
	factory  chatsdk.CollectionFactory
	params   chatsdk.CollectionParams
	hub      *pubsub.Hub
	ownsHub  bool
	store    *Store
	receipts *ReceiptScheduler

	queue  chan event
	stopCh chan struct{}
	done   chan struct{}
	errCh  chan error
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu   sync.RWMutex
	snap Snapshot

	// loop-owned; never touched off the loop goroutine
	state      State
	generation uint64
	collection chatsdk.MessageCollection
	channel    chatsdk.Channel
	viewerID   string
	loading    bool
	refreshing bool
	pagingPrev bool
	pagingNext bool
}

// New starts a synchronizer for the channel. The loop runs until Dispose.
func New(opts Options) (*Synchronizer, error) {
	if opts.Channel == nil {
		return nil, errors.New("collection: Options.Channel is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("collection: Options.Factory is required")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hub := opts.Hub
	ownsHub := false
	if hub == nil {
		hub = pubsub.NewHub()
		ownsHub = true
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		log:      log,
		factory:  opts.Factory,
		params:   opts.Params,
		hub:      hub,
		ownsHub:  ownsHub,
		store:    NewStore(opts.Store),
		receipts: NewReceiptScheduler(opts.ReceiptInterval, log),
		queue:    make(chan event, queueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		errCh:    make(chan error, 8),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateUninitialized,
		channel:  opts.Channel,
	}
	s.snap = Snapshot{State: StateUninitialized, ActiveChannel: opts.Channel}

	go s.loop()
	return s, nil
}

// Start opens a session for the viewer: any previous collection is
// disposed, a fresh one is created and initialized cache-then-server, the
// arrival tray is cleared, and receipts are scheduled. A missing viewer id
// makes Start a no-op; callers retry once their session is ready.
func (s *Synchronizer) Start(viewerID string) {
	if viewerID == "" {
		return
	}
	s.post(evStart{viewerID: viewerID})
}

// Refresh restarts the session like Start but raises the Refreshing flag
// instead of Loading, so views can keep the stale window on screen.
func (s *Synchronizer) Refresh(viewerID string) {
	if viewerID == "" {
		return
	}
	s.post(evStart{viewerID: viewerID, refreshing: true})
}

// LoadPrevious fetches the page before the window. No-op when there is no
// earlier page, no live collection, or a previous-page fetch is in flight.
// Failures are logged and surfaced on Err, never returned.
func (s *Synchronizer) LoadPrevious() {
	s.post(evLoadPrev{})
}

// LoadNext fetches the page after the window and folds it, together with
// the entire arrival tray, into the window in one update.
func (s *Synchronizer) LoadNext() {
	s.post(evLoadNext{})
}

// SendUserMessage sends a text message optimistically: the pending copy
// appears in the window immediately and resolves to succeeded or failed
// when the SDK acks.
func (s *Synchronizer) SendUserMessage(params chatsdk.UserMessageParams) {
	s.post(evSendUser{params: params})
}

// SendFileMessage sends a file message optimistically.
func (s *Synchronizer) SendFileMessage(params chatsdk.FileMessageParams) {
	s.post(evSendFile{params: params})
}

// ResendMessage retries a failed message. Unsupported message types are
// ignored.
func (s *Synchronizer) ResendMessage(msg chatsdk.Message) {
	s.post(evResend{msg: msg})
}

// Snapshot returns the current view. The returned slices are private
// copies.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	snap.Messages = append([]chatsdk.Message(nil), s.snap.Messages...)
	snap.NextMessages = append([]chatsdk.Message(nil), s.snap.NextMessages...)
	return snap
}

// Events is the hub carrying ChannelUpdated and ChannelDeleted broadcasts.
func (s *Synchronizer) Events() *pubsub.Hub {
	return s.hub
}

// Err delivers failures the public operations swallow, for telemetry. The
// channel is buffered; unread errors beyond the buffer are dropped after
// being logged.
func (s *Synchronizer) Err() <-chan error {
	return s.errCh
}

// Dispose tears the synchronizer down: the collection is disposed, the
// receipt scheduler stops, and the loop exits. Dispose blocks until
// teardown finishes and is safe to call more than once.
func (s *Synchronizer) Dispose() {
	s.once.Do(func() {
		s.cancel()
		close(s.stopCh)
	})
	<-s.done
}

func (s *Synchronizer) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stopCh:
			s.teardown()
			s.publishSnapshot()
			return
		case e := <-s.queue:
			e.apply(s)
			s.publishSnapshot()
		}
	}
}

// post enqueues an event, giving up only when the synchronizer stops.
func (s *Synchronizer) post(e event) {
	select {
	case <-s.stopCh:
		return
	default:
	}
	select {
	case s.queue <- e:
	case <-s.stopCh:
	}
}

// startSession is the shared body of Start, Refresh, and gap recovery.
// Runs on the loop.
func (s *Synchronizer) startSession(viewerID string, refreshing bool) {
	s.viewerID = viewerID

	if s.collection != nil {
		s.collection.Dispose()
		s.collection = nil
	}
	s.generation++
	gen := s.generation
	s.state = StateInitializing
	s.loading = !refreshing
	s.refreshing = refreshing
	s.pagingPrev = false
	s.pagingNext = false
	s.store.SetNext(nil, true)

	params := s.params
	if params.Limit <= 0 {
		params.Limit = chatsdk.DefaultLimit
	}
	if params.StartingPoint == 0 {
		params.StartingPoint = time.Now().UnixMilli()
	}

	col, err := s.factory(s.channel, params)
	if err != nil {
		s.log.Error("create message collection",
			zap.String("channel_url", s.channel.URL()),
			zap.Error(err))
		s.signalErr(err)
		s.loading = false
		s.refreshing = false
		s.state = StateUninitialized
		return
	}
	s.collection = col

	s.receipts.MarkDelivered(s.channel)
	s.receipts.MarkRead(s.channel)

	col.SetEventHandler(chatsdk.CollectionHandler{
		OnMessagesAdded: func(ch chatsdk.Channel, msgs []chatsdk.Message) {
			s.post(evAdded{gen: gen, ch: ch, msgs: msgs})
		},
		OnMessagesUpdated: func(ch chatsdk.Channel, msgs []chatsdk.Message) {
			s.post(evUpdated{gen: gen, ch: ch, msgs: msgs})
		},
		OnMessagesDeleted: func(ch chatsdk.Channel, msgs []chatsdk.Message) {
			s.post(evDeleted{gen: gen, ch: ch, msgs: msgs})
		},
		OnChannelUpdated: func(ch chatsdk.Channel) {
			s.post(evChannelUpdated{gen: gen, ch: ch})
		},
		OnChannelDeleted: func(channelURL string) {
			s.post(evChannelDeleted{gen: gen, url: channelURL})
		},
		OnGapDetected: func() {
			s.post(evGap{gen: gen})
		},
	})

	col.Initialize(chatsdk.InitPolicyCacheAndReplaceByAPI, chatsdk.InitHandler{
		OnCacheResult: func(msgs []chatsdk.Message, err error) {
			s.post(evCacheResult{gen: gen, msgs: msgs, err: err})
		},
		OnAPIResult: func(msgs []chatsdk.Message, err error) {
			s.post(evAPIResult{gen: gen, msgs: msgs, err: err})
		},
	})
}

// teardown runs on the loop when stopCh closes.
func (s *Synchronizer) teardown() {
	if s.collection != nil {
		s.collection.Dispose()
		s.collection = nil
	}
	s.receipts.Stop()
	if s.ownsHub {
		s.hub.Close()
	}
	s.state = StateDisposed
	s.loading = false
	s.refreshing = false
}

// adoptChannel replaces the held channel reference with the event's copy.
// Events for a different channel kind (an open-channel event reaching a
// group-channel view) are not adopted.
func (s *Synchronizer) adoptChannel(ch chatsdk.Channel) bool {
	if ch == nil || ch.Kind() != s.channel.Kind() {
		return false
	}
	s.channel = ch
	return true
}

// appendOutstanding folds the collection's pending and failed sends back
// into the window after a snapshot replaced it, so in-flight sends survive
// reloads.
func (s *Synchronizer) appendOutstanding() {
	if s.collection == nil {
		return
	}
	outstanding := append(s.collection.PendingMessages(), s.collection.FailedMessages()...)
	if len(outstanding) == 0 {
		return
	}
	s.store.SetCurrent(outstanding, false)
}

// sendAck adapts the channel's ack callback into the event queue.
func (s *Synchronizer) sendAck() chatsdk.SendAck {
	return func(msg chatsdk.Message, err error) {
		s.post(evSendAck{msg: msg, err: err})
	}
}

func (s *Synchronizer) signalErr(err error) {
	select {
	case s.errCh <- err:
	default:
		s.log.Debug("error signal dropped", zap.Error(err))
	}
}

// publishSnapshot copies loop state into the reader-visible snapshot.
func (s *Synchronizer) publishSnapshot() {
	snap := Snapshot{
		State:               s.state,
		Loading:             s.loading,
		Refreshing:          s.refreshing,
		Messages:            s.store.Current(),
		NextMessages:        s.store.Next(),
		NewMessagesFromNext: s.store.HasNewMessages(s.viewerID),
		ActiveChannel:       s.channel,
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
