package collection

import (
	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/pubsub"
)

// event is one unit of work for the synchronizer loop. Events carry the
// collection generation they were produced under; apply drops anything from
// a generation that is no longer current.
type event interface {
	apply(s *Synchronizer)
}

// evStart begins or restarts a session.
type evStart struct {
	viewerID   string
	refreshing bool
}

func (e evStart) apply(s *Synchronizer) {
	if s.state == StateDisposed || e.viewerID == "" {
		return
	}
	s.startSession(e.viewerID, e.refreshing)
}

// evCacheResult is the cached window from Initialize.
type evCacheResult struct {
	gen  uint64
	msgs []chatsdk.Message
	err  error
}

func (e evCacheResult) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateInitializing {
		return
	}
	if e.err != nil {
		// cache misses are expected on first run; server truth follows
		s.log.Debug("cache result unavailable", zap.Error(e.err))
		return
	}
	s.store.SetCurrent(e.msgs, true)
	s.appendOutstanding()
}

// evAPIResult is the server window from Initialize. It completes the load.
type evAPIResult struct {
	gen  uint64
	msgs []chatsdk.Message
	err  error
}

func (e evAPIResult) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateInitializing {
		return
	}
	if e.err != nil {
		// the load visibly stalls; callers watch Err and may Refresh
		s.log.Warn("server reconcile failed", zap.String("channel_url", s.channel.URL()), zap.Error(e.err))
		s.signalErr(e.err)
		return
	}
	s.store.SetCurrent(e.msgs, true)
	s.appendOutstanding()
	s.loading = false
	s.refreshing = false
	s.state = StateLive
}

// evAdded carries realtime message arrivals.
type evAdded struct {
	gen  uint64
	ch   chatsdk.Channel
	msgs []chatsdk.Message
}

func (e evAdded) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.adoptChannel(e.ch)
	s.receipts.MarkDelivered(s.channel)
	s.receipts.MarkRead(s.channel)
	s.store.SetNext(e.msgs, false)
}

// evUpdated carries realtime message edits.
type evUpdated struct {
	gen  uint64
	ch   chatsdk.Channel
	msgs []chatsdk.Message
}

func (e evUpdated) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.adoptChannel(e.ch)
	s.store.SetNext(e.msgs, false)
}

// evDeleted carries realtime message deletions.
type evDeleted struct {
	gen  uint64
	ch   chatsdk.Channel
	msgs []chatsdk.Message
}

func (e evDeleted) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.adoptChannel(e.ch)
	ids := make([]int64, 0, len(e.msgs))
	rids := make([]string, 0, len(e.msgs))
	for _, m := range e.msgs {
		if m.Confirmed() {
			ids = append(ids, m.MessageID)
		}
		if m.RequestID != "" {
			rids = append(rids, m.RequestID)
		}
	}
	s.store.RemoveByIdentity(ids, rids)
}

// evChannelUpdated replaces the held channel reference.
type evChannelUpdated struct {
	gen uint64
	ch  chatsdk.Channel
}

func (e evChannelUpdated) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	if !s.adoptChannel(e.ch) {
		return
	}
	s.hub.Publish(pubsub.ChannelUpdated{Channel: e.ch})
}

// evChannelDeleted announces the channel is gone.
type evChannelDeleted struct {
	gen uint64
	url string
}

func (e evChannelDeleted) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.hub.Publish(pubsub.ChannelDeleted{ChannelURL: e.url})
}

// evGap reports that the SDK detected a hole between the loaded window and
// server truth. The whole session restarts.
type evGap struct {
	gen uint64
}

func (e evGap) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.log.Info("sync gap detected, reinitializing", zap.String("channel_url", s.channel.URL()))
	s.startSession(s.viewerID, false)
}

// evLoadPrev asks for the page before the window.
type evLoadPrev struct{}

func (e evLoadPrev) apply(s *Synchronizer) {
	if s.state != StateLive || s.collection == nil || s.pagingPrev {
		return
	}
	if !s.collection.HasPrevious() {
		return
	}
	s.pagingPrev = true
	gen := s.generation
	col := s.collection
	go func() {
		msgs, err := col.LoadPrevious(s.ctx)
		s.post(evPrevLoaded{gen: gen, msgs: msgs, err: err})
	}()
}

// evPrevLoaded folds an earlier page into the window.
type evPrevLoaded struct {
	gen  uint64
	msgs []chatsdk.Message
	err  error
}

func (e evPrevLoaded) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.pagingPrev = false
	if e.err != nil {
		s.log.Warn("load previous failed", zap.Error(e.err))
		s.signalErr(e.err)
		return
	}
	s.store.SetCurrent(e.msgs, false)
}

// evLoadNext asks for the page after the window.
type evLoadNext struct{}

func (e evLoadNext) apply(s *Synchronizer) {
	if s.state != StateLive || s.collection == nil || s.pagingNext {
		return
	}
	if !s.collection.HasNext() {
		// no page to fetch, but tray arrivals still fold into the window
		tray := s.store.Next()
		if len(tray) == 0 {
			return
		}
		s.store.SetNext(nil, true)
		s.store.SetCurrent(tray, false)
		return
	}
	s.pagingNext = true
	gen := s.generation
	col := s.collection
	go func() {
		msgs, err := col.LoadNext(s.ctx)
		s.post(evNextLoaded{gen: gen, msgs: msgs, err: err})
	}()
}

// evNextLoaded folds the fetched page and the whole arrival tray into the
// window in one update, so the tray empties exactly when the viewport
// catches up.
type evNextLoaded struct {
	gen  uint64
	msgs []chatsdk.Message
	err  error
}

func (e evNextLoaded) apply(s *Synchronizer) {
	if e.gen != s.generation || s.state != StateLive {
		return
	}
	s.pagingNext = false
	if e.err != nil {
		s.log.Warn("load next failed", zap.Error(e.err))
		s.signalErr(e.err)
		return
	}
	tray := s.store.Next()
	s.store.SetNext(nil, true)
	s.store.SetCurrent(append(e.msgs, tray...), false)
}

// evSendUser starts an optimistic user-message send.
type evSendUser struct {
	params chatsdk.UserMessageParams
}

func (e evSendUser) apply(s *Synchronizer) {
	if s.state == StateDisposed {
		return
	}
	pending := s.channel.SendUserMessage(e.params, s.sendAck())
	s.store.SetCurrent([]chatsdk.Message{pending}, false)
}

// evSendFile starts an optimistic file-message send.
type evSendFile struct {
	params chatsdk.FileMessageParams
}

func (e evSendFile) apply(s *Synchronizer) {
	if s.state == StateDisposed {
		return
	}
	pending := s.channel.SendFileMessage(e.params, s.sendAck())
	s.store.SetCurrent([]chatsdk.Message{pending}, false)
}

// evSendAck resolves an optimistic send. Acks are channel-scoped rather
// than collection-scoped, so they are not generation-guarded: a send made
// before a refresh still resolves after it.
type evSendAck struct {
	msg chatsdk.Message
	err error
}

func (e evSendAck) apply(s *Synchronizer) {
	if s.state == StateDisposed {
		return
	}
	if e.err != nil {
		failed := e.msg
		failed.Status = chatsdk.SendStatusFailed
		s.log.Warn("send failed",
			zap.String("request_id", failed.RequestID),
			zap.Error(e.err))
		s.store.SetCurrent([]chatsdk.Message{failed}, false)
		return
	}
	s.store.SetCurrent([]chatsdk.Message{e.msg}, false)
}

// evResend retries a failed send.
type evResend struct {
	msg chatsdk.Message
}

func (e evResend) apply(s *Synchronizer) {
	if s.state == StateDisposed {
		return
	}

	var err error
	switch e.msg.Type {
	case chatsdk.MessageTypeUser:
		err = s.channel.ResendUserMessage(e.msg, s.sendAck())
	case chatsdk.MessageTypeFile:
		err = s.channel.ResendFileMessage(e.msg, s.sendAck())
	default:
		return
	}
	if err != nil {
		s.log.Warn("resend rejected",
			zap.String("request_id", e.msg.RequestID),
			zap.Error(err))
		s.signalErr(err)
		return
	}

	retried := e.msg
	retried.Status = chatsdk.SendStatusPending
	s.store.SetCurrent([]chatsdk.Message{retried}, false)
}
