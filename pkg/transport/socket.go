// Package transport implements the event socket used by the Mindney client.
//
// A Socket keeps one WebSocket connection to the service open, reconnecting
// with exponential backoff when it drops. Events are sent as JSON frames and
// may carry an ack id; the server answers with an "ack" frame echoing the id,
// or with an "error" frame that is fanned out to every registered error
// observer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Frame types exchanged on the wire.
const (
	FrameEvent = "event"
	FrameAck   = "ack"
	FrameError = "error"
)

// Disconnect reasons passed to Callbacks.OnDisconnect.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportError   = "transport error"
)

// ErrClosed is returned when emitting on a socket that has been closed.
var ErrClosed = errors.New("socket closed")

// Frame is a single message on the wire.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckFunc receives the data of the ack frame answering an emitted event.
// It runs on the read goroutine and must not block.
type AckFunc func(data json.RawMessage)

// Fault is a transport-level error event. An empty ID means the fault
// concerns the whole connection rather than one emitted event.
type Fault struct {
	ID  string
	Err error
}

func (f *Fault) Error() string {
	if f.ID == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("%s (id %s)", f.Err, f.ID)
}

func (f *Fault) Unwrap() error { return f.Err }

// Callbacks observe the connection lifecycle.
// All callbacks are optional; nil callbacks are ignored.
// They run on the socket's goroutines and must not call Close.
type Callbacks struct {
	// OnConnect is called after each successful handshake.
	OnConnect func()

	// OnConnectError is called after each failed dial attempt.
	OnConnectError func(err error)

	// OnDisconnect is called when an established connection ends.
	OnDisconnect func(reason string)
}

// Options configures a Socket.
type Options struct {
	// URL is the ws:// or wss:// address to dial.
	URL string

	// Header is sent with every handshake, including the first one.
	Header http.Header

	Callbacks Callbacks

	// Dialer defaults to a dialer honoring proxy environment variables.
	Dialer *websocket.Dialer

	// Reconnect re-dials after an established connection drops.
	Reconnect bool

	// MaxAttempts bounds dial attempts per connection cycle. Zero retries forever.
	MaxAttempts uint

	RetryDelay    time.Duration // default 1s
	MaxRetryDelay time.Duration // default 5s
	PingPeriod    time.Duration // default 25s
	PongWait      time.Duration // default 60s
	WriteWait     time.Duration // default 10s
	SendSize      int           // default 256

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 20 * time.Second,
		}
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 5 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 25 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendSize <= 0 {
		o.SendSize = 256
	}
}

type outbound struct {
	id   string
	data []byte
}

// Socket is a reconnecting event socket. It is safe for concurrent use.
type Socket struct {
	opts Options
	send chan outbound

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	callbacks    Callbacks
	conn         *websocket.Conn
	started      bool
	closed       bool
	acks         map[string]AckFunc
	queued       map[string]struct{} // ids in send not yet written
	observers    map[uint64]func(*Fault)
	nextObserver uint64
}

// New creates a socket. No I/O happens until Connect is called.
func New(opts Options) *Socket {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		opts:      opts,
		send:      make(chan outbound, opts.SendSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		callbacks: opts.Callbacks,
		acks:      make(map[string]AckFunc),
		queued:    make(map[string]struct{}),
		observers: make(map[uint64]func(*Fault)),
	}
}

// SetCallbacks replaces the lifecycle callbacks.
// It must be called before Connect to observe the first attempt.
func (s *Socket) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// Connect starts dialing in the background. Calling it more than once,
// or after Close, does nothing.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

// Connected reports whether a connection is currently established.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// EmitWithAck queues an event frame. If id is empty a new one is generated.
// The ack callback, when non-nil, fires once with the data of the matching
// ack frame. Frames emitted while disconnected are sent after the next
// successful handshake, unless Forget is called for id first.
func (s *Socket) EmitWithAck(ctx context.Context, id, event string, payload any, ack AckFunc) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", event, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := json.Marshal(Frame{Type: FrameEvent, Event: event, ID: id, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal frame: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if ack != nil {
		s.acks[id] = ack
	}
	s.queued[id] = struct{}{}
	s.mu.Unlock()

	select {
	case s.send <- outbound{id: id, data: raw}:
		return id, nil
	case <-ctx.Done():
		s.Forget(id)
		return "", ctx.Err()
	case <-s.ctx.Done():
		s.Forget(id)
		return "", ErrClosed
	}
}

// Forget drops the ack registration for id and, if its frame has not been
// written yet, withdraws the frame.
func (s *Socket) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.acks, id)
	delete(s.queued, id)
}

// claim reports whether the frame for id is still wanted and marks it as
// written.
func (s *Socket) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queued[id]; !ok {
		return false
	}
	delete(s.queued, id)
	return true
}

// OnError registers an observer for transport faults. The returned function
// removes it; calling it more than once is harmless.
func (s *Socket) OnError(fn func(*Fault)) (off func()) {
	s.mu.Lock()
	key := s.nextObserver
	s.nextObserver++
	s.observers[key] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, key)
			s.mu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered error observers.
func (s *Socket) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Close stops reconnecting, closes the current connection and waits for the
// socket goroutines to exit.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	conn := s.conn
	s.mu.Unlock()

	s.cancel()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.opts.WriteWait))
		err = conn.Close()
	}
	if started {
		<-s.done
	}
	return err
}

// run dials, serves the connection, and re-dials until closed.
func (s *Socket) run() {
	defer close(s.done)

	for {
		conn, err := s.dial()
		if err != nil {
			s.logger().Debug("giving up dialing", "url", s.opts.URL, "error", err)
			return
		}

		reason, connected := s.serve(conn)
		if cb := s.lifecycle().OnDisconnect; connected && cb != nil {
			cb(reason)
		}

		if !s.opts.Reconnect || s.ctx.Err() != nil {
			return
		}
	}
}

func (s *Socket) dial() (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(func() error {
		c, resp, err := s.opts.Dialer.DialContext(s.ctx, s.opts.URL, s.opts.Header.Clone())
		if err != nil {
			if s.ctx.Err() != nil {
				return retry.Unrecoverable(s.ctx.Err())
			}
			if resp != nil {
				err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			if cb := s.lifecycle().OnConnectError; cb != nil {
				cb(err)
			}
			return err
		}
		conn = c
		return nil
	},
		retry.Context(s.ctx),
		retry.Attempts(s.opts.MaxAttempts),
		retry.Delay(s.opts.RetryDelay),
		retry.MaxDelay(s.opts.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger().Debug("dial attempt failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs one established connection until it ends and returns the
// disconnect reason. connected is false when the socket was closed before
// the connection was ever announced through OnConnect.
func (s *Socket) serve(conn *websocket.Conn) (reason string, connected bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ReasonClientDisconnect, false
	}
	s.conn = conn
	s.mu.Unlock()

	if cb := s.lifecycle().OnConnect; cb != nil {
		cb()
	}

	connCtx, cancel := context.WithCancel(s.ctx)
	pumpDone := make(chan struct{})
	go s.writePump(connCtx, conn, pumpDone)

	reason = s.readLoop(conn)

	cancel()
	conn.Close()
	<-pumpDone

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	return reason, true
}

func (s *Socket) readLoop(conn *websocket.Conn) string {
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return s.disconnectReason(err)
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.dispatch(data)
	}
}

func (s *Socket) disconnectReason(err error) string {
	if s.ctx.Err() != nil {
		return ReasonClientDisconnect
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonServerDisconnect
	}

	s.raise(&Fault{Err: err})

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportError
}

func (s *Socket) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.raise(&Fault{Err: fmt.Errorf("decode frame: %w", err)})
		return
	}

	switch f.Type {
	case FrameAck:
		s.mu.Lock()
		ack, ok := s.acks[f.ID]
		delete(s.acks, f.ID)
		s.mu.Unlock()
		if !ok {
			s.logger().Debug("ack for unknown id", "id", f.ID)
			return
		}
		ack(f.Data)

	case FrameError:
		s.raise(&Fault{ID: f.ID, Err: errors.New(errorMessage(f.Data))})

	default:
		s.logger().Debug("ignoring frame", "type", f.Type, "event", f.Event)
	}
}

// errorMessage extracts the "message" of an error frame, falling back to
// the raw data.
func errorMessage(data json.RawMessage) string {
	var detail struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &detail) == nil && detail.Message != "" {
		return detail.Message
	}
	if len(data) == 0 {
		return "unknown transport error"
	}
	return string(data)
}

// raise delivers a fault to every registered observer.
func (s *Socket) raise(f *Fault) {
	s.mu.Lock()
	observers := make([]func(*Fault), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	s.logger().Debug("transport fault", "id", f.ID, "error", f.Err, "observers", len(observers))
	for _, fn := range observers {
		fn(f)
	}
}

// writePump sends queued frames and pings until ctx is done or a write fails.
func (s *Socket) writePump(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case msg := <-s.send:
			if !s.claim(msg.id) {
				s.logger().Debug("dropping withdrawn frame", "id", msg.id)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				s.raise(&Fault{ID: msg.id, Err: fmt.Errorf("write frame: %w", err)})
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Socket) lifecycle() Callbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks
}

func (s *Socket) logger() *slog.Logger {
	if s.opts.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.opts.Logger
}
