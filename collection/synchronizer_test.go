package collection

import (
	"errors"
	"testing"
	"time"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/pubsub"
)

type harness struct {
	t   *testing.T
	sdk *fakeSDK
	ch  *fakeChannel
	s   *Synchronizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sdk := &fakeSDK{}
	ch := newFakeChannel("ch-main", "viewer-1")
	s, err := New(Options{
		Channel:         ch,
		Factory:         sdk.factory,
		ReceiptInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Dispose)
	return &harness{t: t, sdk: sdk, ch: ch, s: s}
}

// start posts Start and waits for the session's collection to exist.
func (h *harness) start() *fakeCollection {
	h.t.Helper()
	before := h.sdk.count()
	h.s.Start("viewer-1")
	waitFor(h.t, "collection created", func() bool {
		col := h.sdk.latest()
		return h.sdk.count() > before && col != nil && col.initialized()
	})
	return h.sdk.latest()
}

// live serves the API page and waits for the Live state.
func (h *harness) live(col *fakeCollection, msgs ...chatsdk.Message) {
	h.t.Helper()
	col.serveAPI(msgs, nil)
	waitFor(h.t, "live state", func() bool { return h.s.Snapshot().State == StateLive })
}

func (h *harness) waitMessages(wantIDs ...int64) {
	h.t.Helper()
	waitFor(h.t, "message window", func() bool {
		got := h.s.Snapshot().Messages
		if len(got) != len(wantIDs) {
			return false
		}
		for i, id := range wantIDs {
			if got[i].MessageID != id {
				return false
			}
		}
		return true
	})
}

func (h *harness) waitTray(wantIDs ...int64) {
	h.t.Helper()
	waitFor(h.t, "tray contents", func() bool {
		got := h.s.Snapshot().NextMessages
		if len(got) != len(wantIDs) {
			return false
		}
		for i, id := range wantIDs {
			if got[i].MessageID != id {
				return false
			}
		}
		return true
	})
}

func (h *harness) drainErr() error {
	h.t.Helper()
	select {
	case err := <-h.s.Err():
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("no error signalled")
		return nil
	}
}

func (h *harness) assertNoErr() {
	h.t.Helper()
	select {
	case err := <-h.s.Err():
		h.t.Fatalf("unexpected error signalled: %v", err)
	default:
	}
}

func TestNewValidatesOptions(t *testing.T) {
	sdk := &fakeSDK{}
	if _, err := New(Options{Factory: sdk.factory}); err == nil {
		t.Error("nil channel accepted")
	}
	if _, err := New(Options{Channel: newFakeChannel("ch", "u")}); err == nil {
		t.Error("nil factory accepted")
	}
}

func TestStartInitializesFromCacheThenServer(t *testing.T) {
	h := newHarness(t)
	col := h.start()

	snap := h.s.Snapshot()
	if snap.State != StateInitializing {
		t.Fatalf("state after start = %s, want %s", snap.State, StateInitializing)
	}
	if !snap.Loading || snap.Refreshing {
		t.Fatalf("loading=%v refreshing=%v after start", snap.Loading, snap.Refreshing)
	}
	if col.params.Limit != chatsdk.DefaultLimit {
		t.Errorf("collection limit = %d, want %d", col.params.Limit, chatsdk.DefaultLimit)
	}
	if col.params.StartingPoint <= 0 {
		t.Errorf("starting point not defaulted: %d", col.params.StartingPoint)
	}
	if !col.params.Filter.Empty() {
		t.Errorf("filter not empty: %+v", col.params.Filter)
	}

	col.serveCache([]chatsdk.Message{
		confirmedMsg(1, "u-2", 100),
		confirmedMsg(2, "u-2", 200),
	}, nil)
	h.waitMessages(1, 2)
	if snap := h.s.Snapshot(); !snap.Loading || snap.State != StateInitializing {
		t.Fatalf("cache page ended the loading window: %+v", snap)
	}

	col.serveAPI([]chatsdk.Message{
		confirmedMsg(2, "u-2", 200),
		confirmedMsg(1, "u-2", 100),
		confirmedMsg(3, "u-2", 300),
	}, nil)
	h.waitMessages(1, 2, 3)

	snap = h.s.Snapshot()
	if snap.State != StateLive {
		t.Errorf("state = %s, want %s", snap.State, StateLive)
	}
	if snap.Loading {
		t.Error("loading still set after server page")
	}
}

func TestStartWithEmptyViewerIsNoop(t *testing.T) {
	h := newHarness(t)
	h.s.Start("")
	h.start()

	if n := h.sdk.count(); n != 1 {
		t.Fatalf("%d collections created, want 1", n)
	}
}

func TestRefreshMarksRefreshing(t *testing.T) {
	h := newHarness(t)
	first := h.start()
	h.live(first, confirmedMsg(1, "u-2", 100))

	h.s.Refresh("viewer-1")
	waitFor(t, "second collection", func() bool { return h.sdk.count() == 2 })
	second := h.sdk.at(1)
	waitFor(t, "refresh init", func() bool { return second.initialized() })

	if !first.isDisposed() {
		t.Error("previous collection not disposed on refresh")
	}
	snap := h.s.Snapshot()
	if !snap.Refreshing || snap.Loading {
		t.Fatalf("refreshing=%v loading=%v during refresh", snap.Refreshing, snap.Loading)
	}

	h.live(second, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))
	h.waitMessages(1, 2)
	if snap := h.s.Snapshot(); snap.Refreshing {
		t.Error("refreshing still set after server page")
	}
}

func TestCacheErrorIsNonFatal(t *testing.T) {
	h := newHarness(t)
	col := h.start()

	col.serveCache(nil, errors.New("cache corrupt"))
	col.serveAPI([]chatsdk.Message{confirmedMsg(1, "u-2", 100)}, nil)
	h.waitMessages(1)

	h.assertNoErr()
	if snap := h.s.Snapshot(); snap.State != StateLive {
		t.Errorf("state = %s after cache failure, want %s", snap.State, StateLive)
	}
}

func TestAPIErrorStallsAndSignals(t *testing.T) {
	h := newHarness(t)
	col := h.start()

	col.serveCache([]chatsdk.Message{confirmedMsg(1, "u-2", 100)}, nil)
	h.waitMessages(1)
	col.serveAPI(nil, errors.New("api down"))

	if err := h.drainErr(); err == nil {
		t.Fatal("nil error on Err channel")
	}
	snap := h.s.Snapshot()
	if snap.State != StateInitializing {
		t.Errorf("state = %s after api failure, want %s", snap.State, StateInitializing)
	}
	if !snap.Loading {
		t.Error("loading cleared even though the window never arrived")
	}
	assertOrder(t, snap.Messages, []int64{1})
}

func TestOutstandingSendsFollowSnapshots(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	col.pending = []chatsdk.Message{pendingMsg("r-out", "viewer-1", 900)}
	failed := pendingMsg("r-bad", "viewer-1", 950)
	failed.Status = chatsdk.SendStatusFailed
	col.failed = []chatsdk.Message{failed}

	h.live(col, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))

	waitFor(t, "outstanding sends appended", func() bool {
		return len(h.s.Snapshot().Messages) == 4
	})
	got := h.s.Snapshot().Messages
	if got[2].RequestID != "r-out" || got[2].Status != chatsdk.SendStatusPending {
		t.Errorf("position 2 = %+v, want pending r-out", got[2])
	}
	if got[3].RequestID != "r-bad" || got[3].Status != chatsdk.SendStatusFailed {
		t.Errorf("position 3 = %+v, want failed r-bad", got[3])
	}
}

func TestRealtimeAddedFillsTray(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100))

	// Arrival order sticks even when timestamps disagree.
	col.emitAdded(h.ch, confirmedMsg(5, "u-2", 500))
	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(5, 4)

	snap := h.s.Snapshot()
	assertOrder(t, snap.Messages, []int64{1})
	if !snap.NewMessagesFromNext {
		t.Error("tray holds another sender's message but the indicator is down")
	}
	waitFor(t, "receipts fired", func() bool {
		d, r := h.ch.receiptCounts()
		return d > 0 && r > 0
	})
}

func TestAddedFromViewerDoesNotFlagNew(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	col.emitAdded(h.ch, confirmedMsg(4, "viewer-1", 400))
	h.waitTray(4)

	if h.s.Snapshot().NewMessagesFromNext {
		t.Error("own message raised the new-messages indicator")
	}
}

func TestUpdatedUpsertsInPlace(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))

	edited := confirmedMsg(2, "u-2", 200)
	edited.Body = "edited"
	unknown := confirmedMsg(7, "u-2", 700)
	col.emitUpdated(h.ch, edited, unknown)
	h.waitTray(7)

	snap := h.s.Snapshot()
	assertOrder(t, snap.Messages, []int64{1, 2})
	if snap.Messages[1].Body != "edited" {
		t.Errorf("edit not applied in place: %+v", snap.Messages[1])
	}
}

func TestDeletedRemovesEverywhere(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))
	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(4)

	col.emitDeleted(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray()
	assertOrder(t, h.s.Snapshot().Messages, []int64{1, 2})

	col.emitDeleted(h.ch, confirmedMsg(2, "u-2", 200))
	h.waitMessages(1)
}

func TestChannelUpdatedReplacesAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	events, cancel := h.s.Events().Subscribe(4)
	defer cancel()

	open := newFakeChannel("ch-main", "viewer-1")
	open.kind = chatsdk.ChannelKindOpen
	col.emitChannelUpdated(open)

	renamed := newFakeChannel("ch-main", "viewer-1")
	renamed.name = "renamed"
	col.emitChannelUpdated(renamed)

	select {
	case ev := <-events:
		upd, ok := ev.(pubsub.ChannelUpdated)
		if !ok {
			t.Fatalf("event type %T, want ChannelUpdated", ev)
		}
		if upd.Channel.Name() != "renamed" {
			t.Errorf("broadcast carried %q, want the matching-kind update", upd.Channel.Name())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no channel event broadcast")
	}

	if got := h.s.Snapshot().ActiveChannel.Name(); got != "renamed" {
		t.Errorf("active channel name = %q, want renamed", got)
	}
}

func TestChannelDeletedBroadcasts(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	events, cancel := h.s.Events().Subscribe(1)
	defer cancel()
	col.emitChannelDeleted("ch-main")

	select {
	case ev := <-events:
		del, ok := ev.(pubsub.ChannelDeleted)
		if !ok {
			t.Fatalf("event type %T, want ChannelDeleted", ev)
		}
		if del.ChannelURL != "ch-main" {
			t.Errorf("deleted url = %q", del.ChannelURL)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no deletion broadcast")
	}
	if state := h.s.Snapshot().State; state != StateLive {
		t.Errorf("state = %s after deletion broadcast, want %s", state, StateLive)
	}
}

func TestGapRestartsAndDropsStaleEvents(t *testing.T) {
	h := newHarness(t)
	old := h.start()
	h.live(old, confirmedMsg(1, "u-2", 100))
	old.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(4)

	old.emitGap()
	waitFor(t, "fresh collection after gap", func() bool { return h.sdk.count() == 2 })
	fresh := h.sdk.at(1)
	waitFor(t, "gap session init", func() bool { return fresh.initialized() })

	if !old.isDisposed() {
		t.Error("stale collection not disposed after gap")
	}
	h.waitTray()

	h.live(fresh, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))

	// The stale handler still points at the dead session.
	old.emitAdded(h.ch, confirmedMsg(9, "u-2", 900))
	fresh.emitAdded(h.ch, confirmedMsg(5, "u-2", 500))
	h.waitTray(5)
	assertOrder(t, h.s.Snapshot().Messages, []int64{1, 2})
}

func TestLoadPreviousMergesOlderPage(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	col.hasPrev = true
	col.prevPage = []chatsdk.Message{confirmedMsg(7, "u-2", 50)}
	h.live(col, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))

	h.s.LoadPrevious()
	h.waitMessages(7, 1, 2)
	h.assertNoErr()
}

func TestLoadPreviousFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	col.hasPrev = true
	col.prevErr = errors.New("page fetch failed")
	h.live(col, confirmedMsg(1, "u-2", 100))

	h.s.LoadPrevious()
	if err := h.drainErr(); err == nil {
		t.Fatal("nil error on Err channel")
	}
	assertOrder(t, h.s.Snapshot().Messages, []int64{1})

	// The failure must not wedge pagination.
	col.mu.Lock()
	col.prevErr = nil
	col.prevPage = []chatsdk.Message{confirmedMsg(7, "u-2", 50)}
	col.mu.Unlock()
	h.s.LoadPrevious()
	h.waitMessages(7, 1)
}

func TestLoadPreviousWithoutOlderIsNoop(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100))

	h.s.LoadPrevious()
	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(4)

	h.assertNoErr()
	assertOrder(t, h.s.Snapshot().Messages, []int64{1})
}

func TestLoadNextFoldsTray(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	col.hasNext = true
	col.nextPage = []chatsdk.Message{confirmedMsg(6, "u-2", 600)}
	h.live(col, confirmedMsg(1, "u-2", 100))

	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	col.emitAdded(h.ch, confirmedMsg(5, "u-2", 500))
	h.waitTray(4, 5)

	h.s.LoadNext()
	h.waitMessages(1, 4, 5, 6)

	snap := h.s.Snapshot()
	if len(snap.NextMessages) != 0 {
		t.Errorf("tray not folded: %+v", snap.NextMessages)
	}
	if snap.NewMessagesFromNext {
		t.Error("indicator still up after the tray folded")
	}
}

func TestLoadNextWithoutPageFoldsTrayOnly(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100))

	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(4)

	h.s.LoadNext()
	h.waitMessages(1, 4)
	if snap := h.s.Snapshot(); len(snap.NextMessages) != 0 || snap.NewMessagesFromNext {
		t.Errorf("tray not folded without a next page: %+v", snap.NextMessages)
	}
}

func TestSendUserMessageLifecycle(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100))

	h.s.SendUserMessage(chatsdk.UserMessageParams{Body: "hei"})
	waitFor(t, "optimistic pending", func() bool {
		msgs := h.s.Snapshot().Messages
		return len(msgs) == 2 && msgs[1].Status == chatsdk.SendStatusPending
	})

	confirmed := h.ch.confirm(t, 9)
	h.waitMessages(1, 9)
	got := h.s.Snapshot().Messages[1]
	if got.Status != chatsdk.SendStatusSucceeded || got.RequestID != confirmed.RequestID {
		t.Fatalf("ack not upserted in place: %+v", got)
	}

	h.s.SendUserMessage(chatsdk.UserMessageParams{Body: "again"})
	waitFor(t, "second pending", func() bool { return len(h.s.Snapshot().Messages) == 3 })
	h.ch.fail(t, errors.New("network"))
	waitFor(t, "failed status", func() bool {
		msgs := h.s.Snapshot().Messages
		return len(msgs) == 3 && msgs[2].Status == chatsdk.SendStatusFailed
	})
}

func TestResendFailedMessage(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	h.s.SendUserMessage(chatsdk.UserMessageParams{Body: "retry me"})
	waitFor(t, "pending send", func() bool { return len(h.s.Snapshot().Messages) == 1 })
	failed := h.ch.fail(t, errors.New("network"))
	waitFor(t, "failed send", func() bool {
		msgs := h.s.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Status == chatsdk.SendStatusFailed
	})
	failed.Status = chatsdk.SendStatusFailed

	h.s.ResendMessage(failed)
	waitFor(t, "pending again", func() bool {
		return h.s.Snapshot().Messages[0].Status == chatsdk.SendStatusPending
	})
	h.ch.confirm(t, 10)
	h.waitMessages(10)
}

func TestResendSkipsUnsupportedType(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	admin := chatsdk.Message{
		MessageID: 3,
		Type:      chatsdk.MessageTypeAdmin,
		Status:    chatsdk.SendStatusFailed,
	}
	h.s.ResendMessage(admin)

	// Prove the resend was skipped by pushing a later event through.
	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(4)
	h.ch.mu.Lock()
	sends := len(h.ch.sends)
	h.ch.mu.Unlock()
	if sends != 0 {
		t.Errorf("%d sends recorded for an admin resend", sends)
	}
}

func TestResendRejectedByChannel(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	h.s.SendUserMessage(chatsdk.UserMessageParams{Body: "doomed"})
	waitFor(t, "pending send", func() bool { return len(h.s.Snapshot().Messages) == 1 })
	failed := h.ch.fail(t, errors.New("network"))
	failed.Status = chatsdk.SendStatusFailed
	waitFor(t, "failed send", func() bool {
		return h.s.Snapshot().Messages[0].Status == chatsdk.SendStatusFailed
	})

	h.ch.mu.Lock()
	h.ch.resendErr = chatsdk.ErrResendNotSupported
	h.ch.mu.Unlock()
	h.s.ResendMessage(failed)

	col.emitAdded(h.ch, confirmedMsg(4, "u-2", 400))
	h.waitTray(4)
	if got := h.s.Snapshot().Messages[0].Status; got != chatsdk.SendStatusFailed {
		t.Errorf("status = %s after rejected resend, want failed", got)
	}
}

func TestSendFileMessage(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	h.s.SendFileMessage(chatsdk.FileMessageParams{FileName: "notes.txt"})
	waitFor(t, "pending file", func() bool {
		msgs := h.s.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].FileName == "notes.txt"
	})
	h.ch.confirm(t, 11)
	h.waitMessages(11)
}

func TestDisposeIsTerminalAndIdempotent(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col)

	h.s.Dispose()
	h.s.Dispose()

	if !col.isDisposed() {
		t.Error("collection left live after dispose")
	}
	if state := h.s.Snapshot().State; state != StateDisposed {
		t.Errorf("state = %s, want %s", state, StateDisposed)
	}

	h.s.Start("viewer-1")
	h.s.SendUserMessage(chatsdk.UserMessageParams{Body: "late"})
	time.Sleep(20 * time.Millisecond)
	if n := h.sdk.count(); n != 1 {
		t.Errorf("%d collections exist after disposed Start, want 1", n)
	}
	h.ch.mu.Lock()
	sends := len(h.ch.sends)
	h.ch.mu.Unlock()
	if sends != 0 {
		t.Errorf("%d sends recorded after dispose", sends)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	h := newHarness(t)
	col := h.start()
	h.live(col, confirmedMsg(1, "u-2", 100), confirmedMsg(2, "u-2", 200))

	snap := h.s.Snapshot()
	snap.Messages[0] = confirmedMsg(99, "u-9", 1)

	assertOrder(t, h.s.Snapshot().Messages, []int64{1, 2})
}
