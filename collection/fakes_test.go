package collection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ferrowell/parley/chatsdk"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type pendingSend struct {
	msg chatsdk.Message
	ack chatsdk.SendAck
}

// fakeChannel implements chatsdk.Channel with manual ack resolution so
// tests control exactly when sends confirm or fail.
type fakeChannel struct {
	mu        sync.Mutex
	url       string
	name      string
	kind      chatsdk.ChannelKind
	sender    string
	seq       int
	sends     []pendingSend
	resendErr error
	recErr    error
	delivered int
	read      int
}

func newFakeChannel(url, sender string) *fakeChannel {
	return &fakeChannel{url: url, name: url, kind: chatsdk.ChannelKindGroup, sender: sender}
}

func (c *fakeChannel) URL() string               { return c.url }
func (c *fakeChannel) Name() string              { c.mu.Lock(); defer c.mu.Unlock(); return c.name }
func (c *fakeChannel) Kind() chatsdk.ChannelKind { return c.kind }
func (c *fakeChannel) CustomType() string        { return "" }

func (c *fakeChannel) SendUserMessage(p chatsdk.UserMessageParams, ack chatsdk.SendAck) chatsdk.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	m := chatsdk.Message{
		RequestID:  fmt.Sprintf("r-%d", c.seq),
		Type:       chatsdk.MessageTypeUser,
		ChannelURL: c.url,
		SenderID:   c.sender,
		Body:       p.Body,
		CreatedAt:  time.Now().UnixMilli(),
		Status:     chatsdk.SendStatusPending,
	}
	c.sends = append(c.sends, pendingSend{msg: m, ack: ack})
	return m
}

func (c *fakeChannel) SendFileMessage(p chatsdk.FileMessageParams, ack chatsdk.SendAck) chatsdk.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	m := chatsdk.Message{
		RequestID:  fmt.Sprintf("r-%d", c.seq),
		Type:       chatsdk.MessageTypeFile,
		ChannelURL: c.url,
		SenderID:   c.sender,
		FileName:   p.FileName,
		CreatedAt:  time.Now().UnixMilli(),
		Status:     chatsdk.SendStatusPending,
	}
	c.sends = append(c.sends, pendingSend{msg: m, ack: ack})
	return m
}

func (c *fakeChannel) ResendUserMessage(msg chatsdk.Message, ack chatsdk.SendAck) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resendErr != nil {
		return c.resendErr
	}
	c.sends = append(c.sends, pendingSend{msg: msg, ack: ack})
	return nil
}

func (c *fakeChannel) ResendFileMessage(msg chatsdk.Message, ack chatsdk.SendAck) error {
	return c.ResendUserMessage(msg, ack)
}

func (c *fakeChannel) MarkAsDelivered(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered++
	return c.recErr
}

func (c *fakeChannel) MarkAsRead(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read++
	return c.recErr
}

func (c *fakeChannel) receiptCounts() (delivered, read int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered, c.read
}

// takeSend pops the oldest unresolved send.
func (c *fakeChannel) takeSend(t *testing.T) pendingSend {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sends) == 0 {
		t.Fatal("no unresolved send")
	}
	s := c.sends[0]
	c.sends = c.sends[1:]
	return s
}

// confirm resolves the oldest send with a server copy.
func (c *fakeChannel) confirm(t *testing.T, id int64) chatsdk.Message {
	t.Helper()
	s := c.takeSend(t)
	confirmed := s.msg
	confirmed.MessageID = id
	confirmed.Status = chatsdk.SendStatusSucceeded
	s.ack(confirmed, nil)
	return confirmed
}

// fail resolves the oldest send with an error.
func (c *fakeChannel) fail(t *testing.T, err error) chatsdk.Message {
	t.Helper()
	s := c.takeSend(t)
	s.ack(s.msg, err)
	return s.msg
}

// fakeCollection implements chatsdk.MessageCollection with test-driven
// snapshot and event delivery.
type fakeCollection struct {
	mu       sync.Mutex
	params   chatsdk.CollectionParams
	initH    chatsdk.InitHandler
	handler  chatsdk.CollectionHandler
	hasPrev  bool
	hasNext  bool
	prevPage []chatsdk.Message
	nextPage []chatsdk.Message
	prevErr  error
	nextErr  error
	pending  []chatsdk.Message
	failed   []chatsdk.Message
	inited   bool
	disposed bool
}

func (f *fakeCollection) Initialize(_ chatsdk.InitPolicy, h chatsdk.InitHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initH = h
	f.inited = true
}

func (f *fakeCollection) SetEventHandler(h chatsdk.CollectionHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeCollection) LoadPrevious(context.Context) ([]chatsdk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prevPage, f.prevErr
}

func (f *fakeCollection) LoadNext(context.Context) ([]chatsdk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextPage, f.nextErr
}

func (f *fakeCollection) HasPrevious() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasPrev
}

func (f *fakeCollection) HasNext() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasNext
}

func (f *fakeCollection) PendingMessages() []chatsdk.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatsdk.Message(nil), f.pending...)
}

func (f *fakeCollection) FailedMessages() []chatsdk.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatsdk.Message(nil), f.failed...)
}

func (f *fakeCollection) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
}

func (f *fakeCollection) isDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *fakeCollection) initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inited
}

func (f *fakeCollection) serveCache(msgs []chatsdk.Message, err error) {
	f.mu.Lock()
	h := f.initH
	f.mu.Unlock()
	h.OnCacheResult(msgs, err)
}

func (f *fakeCollection) serveAPI(msgs []chatsdk.Message, err error) {
	f.mu.Lock()
	h := f.initH
	f.mu.Unlock()
	h.OnAPIResult(msgs, err)
}

func (f *fakeCollection) emitAdded(ch chatsdk.Channel, msgs ...chatsdk.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnMessagesAdded(ch, msgs)
}

func (f *fakeCollection) emitUpdated(ch chatsdk.Channel, msgs ...chatsdk.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnMessagesUpdated(ch, msgs)
}

func (f *fakeCollection) emitDeleted(ch chatsdk.Channel, msgs ...chatsdk.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnMessagesDeleted(ch, msgs)
}

func (f *fakeCollection) emitChannelUpdated(ch chatsdk.Channel) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnChannelUpdated(ch)
}

func (f *fakeCollection) emitChannelDeleted(url string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnChannelDeleted(url)
}

func (f *fakeCollection) emitGap() {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnGapDetected()
}

// fakeSDK hands out fakeCollections and remembers them in creation order.
type fakeSDK struct {
	mu         sync.Mutex
	cols       []*fakeCollection
	factoryErr error
}

func (s *fakeSDK) factory(_ chatsdk.Channel, p chatsdk.CollectionParams) (chatsdk.MessageCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factoryErr != nil {
		return nil, s.factoryErr
	}
	col := &fakeCollection{params: p}
	s.cols = append(s.cols, col)
	return col, nil
}

func (s *fakeSDK) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cols)
}

func (s *fakeSDK) at(i int) *fakeCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.cols) {
		return nil
	}
	return s.cols[i]
}

func (s *fakeSDK) latest() *fakeCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cols) == 0 {
		return nil
	}
	return s.cols[len(s.cols)-1]
}
