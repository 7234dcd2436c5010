package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mindney/mindney-go/pkg/transport"
)

// emitted is one event handed to the fake transport.
type emitted struct {
	id      string
	event   string
	payload []byte
	ack     transport.AckFunc
}

// fakeTransport records emits and lets tests drive lifecycle callbacks,
// acks and faults by hand.
type fakeTransport struct {
	mu        sync.Mutex
	callbacks transport.Callbacks
	connects  int
	observers map[int]func(*transport.Fault)
	next      int
	forgotten []string
	closed    bool
	emitErr   error

	emits chan emitted
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		observers: make(map[int]func(*transport.Fault)),
		emits:     make(chan emitted, 16),
	}
}

func (f *fakeTransport) SetCallbacks(cb transport.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = cb
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeTransport) Connected() bool { return false }

func (f *fakeTransport) EmitWithAck(ctx context.Context, id, event string, payload any, ack transport.AckFunc) (string, error) {
	f.mu.Lock()
	closed, emitErr := f.closed, f.emitErr
	f.mu.Unlock()
	if closed {
		return "", transport.ErrClosed
	}
	if emitErr != nil {
		return "", emitErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	f.emits <- emitted{id: id, event: event, payload: data, ack: ack}
	return id, nil
}

func (f *fakeTransport) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

func (f *fakeTransport) OnError(fn func(*transport.Fault)) func() {
	f.mu.Lock()
	key := f.next
	f.next++
	f.observers[key] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.observers, key)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// raise fires a fault at every registered observer.
func (f *fakeTransport) raise(fault *transport.Fault) {
	f.mu.Lock()
	var observers []func(*transport.Fault)
	for _, fn := range f.observers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()
	for _, fn := range observers {
		fn(fault)
	}
}

func (f *fakeTransport) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func (f *fakeTransport) lifecycle() transport.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks
}

func (f *fakeTransport) wasForgotten(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.forgotten {
		if got == id {
			return true
		}
	}
	return false
}

// dialRecord captures what New passed to the TransportFunc.
type dialRecord struct {
	calls    int
	endpoint string
	header   http.Header
}

func validConfig() Config {
	return Config{
		Credentials: Credentials{
			ClientID:    "client-1",
			APIKey:      "key-1",
			SecretToken: "token-1",
		},
	}
}

// newTestClient builds a Client on a fake transport and closes it on cleanup.
func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *fakeTransport, *dialRecord) {
	t.Helper()
	ft := newFakeTransport()
	rec := &dialRecord{}
	opts = append(opts, WithTransport(func(endpoint string, header http.Header) (Transport, error) {
		rec.calls++
		rec.endpoint = endpoint
		rec.header = header
		return ft, nil
	}))
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, ft, rec
}

// waitEmit returns the next event emitted on ft.
func waitEmit(t *testing.T, ft *fakeTransport) emitted {
	t.Helper()
	select {
	case e := <-ft.emits:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for emit")
		return emitted{}
	}
}

type reply[U any] struct {
	msg *Message[U]
	err error
}

// goRequest runs Request in the background.
func goRequest[U any](ctx context.Context, c *Client, msg OutboundMessage[any]) <-chan reply[U] {
	ch := make(chan reply[U], 1)
	go func() {
		out, err := Request[U](ctx, c, msg)
		ch <- reply[U]{msg: out, err: err}
	}()
	return ch
}

func waitReply[U any](t *testing.T, ch <-chan reply[U]) reply[U] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
		return reply[U]{}
	}
}

// countingHandler records every log record it receives.
type countingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) snapshot() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), h.records...)
}
