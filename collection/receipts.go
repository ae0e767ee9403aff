package collection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"
)

// DefaultReceiptInterval is the receipt debounce window.
const DefaultReceiptInterval = 300 * time.Millisecond

// receiptTimeout bounds one receipt call against the SDK.
const receiptTimeout = 5 * time.Second

// ReceiptScheduler coalesces delivery and read receipts per channel: a
// burst of arrivals produces at most one SDK call per receipt kind per
// flush window. Receipts are fire-and-forget; failures are logged and
// dropped, never propagated.
type ReceiptScheduler struct {
	log      *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	pending map[string]*receiptWork
	timer   *time.Timer
	stopped bool
}

type receiptWork struct {
	ch        chatsdk.Channel
	delivered bool
	read      bool
}

// NewReceiptScheduler returns a scheduler flushing every interval.
// A non-positive interval means DefaultReceiptInterval.
func NewReceiptScheduler(interval time.Duration, log *zap.Logger) *ReceiptScheduler {
	if interval <= 0 {
		interval = DefaultReceiptInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReceiptScheduler{
		log:      log,
		interval: interval,
		pending:  make(map[string]*receiptWork),
	}
}

// MarkDelivered schedules a delivery receipt for the channel.
func (r *ReceiptScheduler) MarkDelivered(ch chatsdk.Channel) {
	r.mark(ch, true, false)
}

// MarkRead schedules a read receipt for the channel.
func (r *ReceiptScheduler) MarkRead(ch chatsdk.Channel) {
	r.mark(ch, false, true)
}

func (r *ReceiptScheduler) mark(ch chatsdk.Channel, delivered, read bool) {
	if ch == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	w := r.pending[ch.URL()]
	if w == nil {
		w = &receiptWork{}
		r.pending[ch.URL()] = w
	}
	w.ch = ch // newest channel reference wins
	w.delivered = w.delivered || delivered
	w.read = w.read || read

	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, r.Flush)
	}
}

// Flush fires everything scheduled so far immediately. Exposed so tests
// and teardown paths need not wait out the debounce window.
func (r *ReceiptScheduler) Flush() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	work := r.pending
	r.pending = make(map[string]*receiptWork)
	r.mu.Unlock()

	for _, w := range work {
		r.fire(w)
	}
}

func (r *ReceiptScheduler) fire(w *receiptWork) {
	ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
	defer cancel()

	if w.delivered {
		if err := w.ch.MarkAsDelivered(ctx); err != nil {
			r.log.Warn("delivery receipt failed",
				zap.String("channel_url", w.ch.URL()),
				zap.Error(err))
		}
	}
	if w.read {
		if err := w.ch.MarkAsRead(ctx); err != nil {
			r.log.Warn("read receipt failed",
				zap.String("channel_url", w.ch.URL()),
				zap.Error(err))
		}
	}
}

// Stop drops scheduled receipts and rejects new ones.
func (r *ReceiptScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = make(map[string]*receiptWork)
}
