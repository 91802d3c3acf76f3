package chatsync

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test Helpers
// ============================================================================

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msgRecord(id, from, to string, minute int, body string) Record {
	return Record{
		"id":         id,
		"fromUserId": from,
		"toUserId":   to,
		"message":    body,
		"createdAt":  t0.Add(time.Duration(minute) * time.Minute).Format(time.RFC3339),
	}
}

func convRecord(peerID, name string, unread int, last string) Record {
	r := Record{
		"id":          "c-" + peerID,
		"peer":        Record{"id": peerID, "name": name},
		"unreadCount": float64(unread),
	}
	if last != "" {
		r["lastMessage"] = msgRecord("lm-"+peerID, peerID, "u1", 0, last)
	}
	return r
}

// fakeGateway is an in-memory ChatGateway. Hooks, when set, replace the
// default behavior of the matching call.
type fakeGateway struct {
	mu       sync.Mutex
	convs    []Record
	admins   []Record
	messages map[string][]Record

	convsErr    error
	messagesErr error
	sendErr     error
	markReadErr error
	blockErr    error
	deleteErr   map[string]error

	onFetchConversations func(ctx context.Context, call int) ([]Record, error)
	onFetchMessages      func(ctx context.Context, peerID string, call int) ([]Record, error)
	onSend               func(ctx context.Context, peerID, body, imageURL string) (Record, error)
	onMarkRead           func(ctx context.Context, peerID string) error

	calls   map[string]int
	deletes []string
	sent    []sentMessage
	reads   []string
	blocked []string
}

type sentMessage struct {
	peerID, body, imageURL string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages:  map[string][]Record{},
		deleteErr: map[string]error{},
		calls:     map[string]int{},
	}
}

func (g *fakeGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) record(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[name]++
	return g.calls[name]
}

func (g *fakeGateway) setMessages(peerID string, recs ...Record) {
	g.mu.Lock()
	g.messages[peerID] = recs
	g.mu.Unlock()
}

func (g *fakeGateway) FetchConversations(ctx context.Context) ([]Record, error) {
	call := g.record("conversations")
	if g.onFetchConversations != nil {
		return g.onFetchConversations(ctx, call)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.convsErr != nil {
		return nil, g.convsErr
	}
	return append([]Record(nil), g.convs...), nil
}

func (g *fakeGateway) FetchAdmins(ctx context.Context) ([]Record, error) {
	g.record("admins")
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Record(nil), g.admins...), nil
}

func (g *fakeGateway) FetchMessages(ctx context.Context, peerID string) ([]Record, error) {
	call := g.record("messages")
	if g.onFetchMessages != nil {
		return g.onFetchMessages(ctx, peerID, call)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.messagesErr != nil {
		return nil, g.messagesErr
	}
	return append([]Record(nil), g.messages[peerID]...), nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, peerID, body, imageURL string) (Record, error) {
	g.record("send")
	if g.onSend != nil {
		return g.onSend(ctx, peerID, body, imageURL)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.sent = append(g.sent, sentMessage{peerID, body, imageURL})
	return Record{"id": fmt.Sprintf("srv-%d", len(g.sent))}, nil
}

func (g *fakeGateway) MarkRead(ctx context.Context, peerID string) error {
	g.record("read")
	if g.onMarkRead != nil {
		return g.onMarkRead(ctx, peerID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.markReadErr != nil {
		return g.markReadErr
	}
	g.reads = append(g.reads, peerID)
	return nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, messageID string) error {
	g.record("delete")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, messageID)
	return g.deleteErr[messageID]
}

func (g *fakeGateway) BlockUser(ctx context.Context, peerID string) error {
	g.record("block")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blockErr != nil {
		return g.blockErr
	}
	g.blocked = append(g.blocked, peerID)
	return nil
}

// fakeMedia is an in-memory MediaGateway.
type fakeMedia struct {
	mu      sync.Mutex
	err     error
	uploads [][]byte
	names   []string
	fromURL []string
}

func (m *fakeMedia) UploadFile(ctx context.Context, data []byte, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.uploads = append(m.uploads, data)
	m.names = append(m.names, name)
	return "https://cdn.example.com/" + name, nil
}

func (m *fakeMedia) UploadFromURL(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.fromURL = append(m.fromURL, url)
	return "https://cdn.example.com/remote.jpg", nil
}

// fakeClock hands out tickers that only fire when the test says so.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) last() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire delivers one tick and reports whether the scheduler loop received it.
func (t *fakeTicker) fire(wait time.Duration) bool {
	select {
	case t.c <- t0:
		return true
	case <-time.After(wait):
		return false
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) zerolog.Logger {
	return zerolog.New(buf).Level(zerolog.DebugLevel)
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	name    string
	payload any
}

func (r *recorder) handler(event string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{event, payload})
	r.mu.Unlock()
}

func (r *recorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) listen(s *Session, events ...string) {
	for _, e := range events {
		s.On(e, r.handler)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
