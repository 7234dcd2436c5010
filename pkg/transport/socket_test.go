package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startServer runs a WebSocket test server that hands each upgraded
// connection to handle.
func startServer(t *testing.T, handle func(r *http.Request, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(r, conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// newTestSocket creates a socket against server and closes it on cleanup.
func newTestSocket(t *testing.T, server *httptest.Server, opts Options) *Socket {
	t.Helper()
	opts.URL = wsURL(server)
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	s := New(opts)
	t.Cleanup(func() { s.Close() })
	return s
}

// readFrame reads one frame from the server side of the connection.
func readFrame(conn *websocket.Conn) (Frame, error) {
	var f Frame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(data, &f)
	return f, err
}

// drain keeps reading so control frames are processed until the peer goes away.
func drain(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "https://ai.mindney.com", want: "wss://ai.mindney.com/"},
		{endpoint: "http://localhost:8080/socket", want: "ws://localhost:8080/socket"},
		{endpoint: "wss://example.com/ws", want: "wss://example.com/ws"},
		{endpoint: "ftp://example.com", wantErr: true},
		{endpoint: "not a url", wantErr: true},
		{endpoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := WebSocketURL(tt.endpoint)
			if tt.wantErr {
				if err == nil {
					t.Errorf("WebSocketURL(%q) = %q, want error", tt.endpoint, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("WebSocketURL(%q) error = %v", tt.endpoint, err)
			}
			if got != tt.want {
				t.Errorf("WebSocketURL(%q) = %q, want %q", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestSocket_HeadersOnFirstHandshake(t *testing.T) {
	headers := make(chan http.Header, 4)
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		headers <- r.Header.Clone()
		drain(conn)
	})

	header := http.Header{}
	header.Set("client-id", "cid")
	header.Set("api-key", "key")
	header.Set("secret-token", "tok")

	connected := make(chan struct{}, 1)
	s := newTestSocket(t, server, Options{
		Header: header,
		Callbacks: Callbacks{
			OnConnect: func() { connected <- struct{}{} },
		},
	})
	s.Connect()

	select {
	case h := <-headers:
		for name, want := range map[string]string{"client-id": "cid", "api-key": "key", "secret-token": "tok"} {
			if got := h.Get(name); got != want {
				t.Errorf("header %s = %q, want %q", name, got, want)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake")
	}

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnect was not called")
	}
	if !s.Connected() {
		t.Error("Connected() = false after OnConnect")
	}
}

func TestSocket_EmitWithAck(t *testing.T) {
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		if f.Type != FrameEvent || f.Event != "request" {
			conn.WriteJSON(Frame{Type: FrameError, ID: f.ID, Data: json.RawMessage(`{"message":"unexpected frame"}`)})
			return
		}
		conn.WriteJSON(Frame{Type: FrameAck, ID: f.ID, Data: f.Data})
		drain(conn)
	})

	s := newTestSocket(t, server, Options{})
	s.Connect()

	got := make(chan json.RawMessage, 1)
	id, err := s.EmitWithAck(context.Background(), "", "request", map[string]string{"prompt": "hi"}, func(data json.RawMessage) {
		got <- data
	})
	if err != nil {
		t.Fatalf("EmitWithAck() error = %v", err)
	}
	if id == "" {
		t.Error("EmitWithAck() returned empty id")
	}

	select {
	case data := <-got:
		if string(data) != `{"prompt":"hi"}` {
			t.Errorf("ack data = %s, want echo of payload", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestSocket_EmitBeforeConnectIsBuffered(t *testing.T) {
	received := make(chan Frame, 1)
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		f, err := readFrame(conn)
		if err == nil {
			received <- f
		}
		drain(conn)
	})

	s := newTestSocket(t, server, Options{})
	id, err := s.EmitWithAck(context.Background(), "fixed-id", "request", "early", nil)
	if err != nil {
		t.Fatalf("EmitWithAck() error = %v", err)
	}
	if id != "fixed-id" {
		t.Errorf("id = %q, want %q", id, "fixed-id")
	}

	s.Connect()

	select {
	case f := <-received:
		if f.ID != "fixed-id" || string(f.Data) != `"early"` {
			t.Errorf("received frame = %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("buffered frame was not delivered")
	}
}

func TestSocket_ErrorFrameReachesObservers(t *testing.T) {
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		conn.WriteJSON(Frame{Type: FrameError, ID: f.ID, Data: json.RawMessage(`{"message":"rate limited"}`)})
		drain(conn)
	})

	s := newTestSocket(t, server, Options{})
	faults := make(chan *Fault, 2)
	off := s.OnError(func(f *Fault) { faults <- f })
	defer off()
	s.Connect()

	id, err := s.EmitWithAck(context.Background(), "", "request", nil, func(json.RawMessage) {})
	if err != nil {
		t.Fatalf("EmitWithAck() error = %v", err)
	}

	select {
	case f := <-faults:
		if f.ID != id {
			t.Errorf("fault id = %q, want %q", f.ID, id)
		}
		if f.Err.Error() != "rate limited" {
			t.Errorf("fault error = %q, want %q", f.Err, "rate limited")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fault")
	}
}

func TestSocket_OnErrorOff(t *testing.T) {
	s := New(Options{URL: "ws://127.0.0.1:1"})
	defer s.Close()

	off1 := s.OnError(func(*Fault) {})
	off2 := s.OnError(func(*Fault) {})
	if got := s.ListenerCount(); got != 2 {
		t.Fatalf("ListenerCount() = %d, want 2", got)
	}

	off1()
	off1()
	if got := s.ListenerCount(); got != 1 {
		t.Errorf("ListenerCount() after off = %d, want 1", got)
	}
	off2()
	if got := s.ListenerCount(); got != 0 {
		t.Errorf("ListenerCount() = %d, want 0", got)
	}
}

func TestSocket_ConnectErrorOnRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	var mu sync.Mutex
	var errs []error
	s := New(Options{
		URL:         wsURL(server),
		MaxAttempts: 2,
		RetryDelay:  5 * time.Millisecond,
		Callbacks: Callbacks{
			OnConnect: func() { t.Error("OnConnect called for rejected handshake") },
			OnConnectError: func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			},
		},
	})
	s.Connect()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("socket did not give up after MaxAttempts")
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 {
		t.Fatalf("OnConnectError called %d times, want 2", len(errs))
	}
	if !errors.Is(errs[0], websocket.ErrBadHandshake) {
		t.Errorf("error = %v, want ErrBadHandshake", errs[0])
	}
	if !strings.Contains(errs[0].Error(), "401") {
		t.Errorf("error = %v, want status 401 mentioned", errs[0])
	}
}

func TestSocket_ServerDisconnectReason(t *testing.T) {
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		drain(conn)
	})

	reasons := make(chan string, 1)
	s := newTestSocket(t, server, Options{
		Callbacks: Callbacks{
			OnDisconnect: func(reason string) { reasons <- reason },
		},
	})
	var faults atomic.Int32
	off := s.OnError(func(*Fault) { faults.Add(1) })
	defer off()
	s.Connect()

	select {
	case reason := <-reasons:
		if reason != ReasonServerDisconnect {
			t.Errorf("reason = %q, want %q", reason, ReasonServerDisconnect)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnect was not called")
	}
	if n := faults.Load(); n != 0 {
		t.Errorf("clean close raised %d faults, want 0", n)
	}
}

func TestSocket_AbruptCloseRaisesConnectionFault(t *testing.T) {
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	reasons := make(chan string, 1)
	s := newTestSocket(t, server, Options{
		Callbacks: Callbacks{
			OnDisconnect: func(reason string) { reasons <- reason },
		},
	})
	faults := make(chan *Fault, 1)
	off := s.OnError(func(f *Fault) { faults <- f })
	defer off()
	s.Connect()

	select {
	case f := <-faults:
		if f.ID != "" {
			t.Errorf("fault id = %q, want connection-wide fault", f.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fault raised for abrupt close")
	}
	if reason := <-reasons; reason != ReasonTransportError {
		t.Errorf("reason = %q, want %q", reason, ReasonTransportError)
	}
}

func TestSocket_Reconnects(t *testing.T) {
	var mu sync.Mutex
	handshakes := 0
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		mu.Lock()
		handshakes++
		n := handshakes
		mu.Unlock()
		if n == 1 {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
		}
		drain(conn)
	})

	connects := make(chan struct{}, 2)
	s := newTestSocket(t, server, Options{
		Reconnect: true,
		Callbacks: Callbacks{
			OnConnect: func() { connects <- struct{}{} },
		},
	})
	s.Connect()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(5 * time.Second):
			t.Fatalf("connect %d did not happen", i+1)
		}
	}
}

func TestSocket_Close(t *testing.T) {
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		drain(conn)
	})

	connected := make(chan struct{}, 1)
	reasons := make(chan string, 1)
	s := newTestSocket(t, server, Options{
		Reconnect: true,
		Callbacks: Callbacks{
			OnConnect:    func() { connected <- struct{}{} },
			OnDisconnect: func(reason string) { reasons <- reason },
		},
	})
	s.Connect()
	<-connected

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if reason := <-reasons; reason != ReasonClientDisconnect {
		t.Errorf("reason = %q, want %q", reason, ReasonClientDisconnect)
	}
	if s.Connected() {
		t.Error("Connected() = true after Close")
	}
	if _, err := s.EmitWithAck(context.Background(), "", "request", nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("EmitWithAck() after Close error = %v, want ErrClosed", err)
	}
}

func TestSocket_ForgottenFrameIsNeverWritten(t *testing.T) {
	var handshakes atomic.Int32
	received := make(chan Frame, 4)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handshakes.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			f, err := readFrame(conn)
			if err != nil {
				return
			}
			received <- f
		}
	}))
	defer server.Close()

	s := newTestSocket(t, server, Options{})
	if _, err := s.EmitWithAck(context.Background(), "withdrawn", "request", "charge", nil); err != nil {
		t.Fatalf("EmitWithAck(withdrawn) error = %v", err)
	}
	s.Forget("withdrawn")
	if _, err := s.EmitWithAck(context.Background(), "kept", "request", "lookup", nil); err != nil {
		t.Fatalf("EmitWithAck(kept) error = %v", err)
	}

	s.Connect()

	select {
	case f := <-received:
		if f.ID != "kept" {
			t.Fatalf("first frame written = %+v, want id %q", f, "kept")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("kept frame was not delivered")
	}
	if n := handshakes.Load(); n < 2 {
		t.Errorf("server saw %d handshakes, want at least 2", n)
	}

	select {
	case f := <-received:
		t.Errorf("unexpected frame written: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocket_ForgetAfterWriteKeepsOtherFrames(t *testing.T) {
	received := make(chan Frame, 4)
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			f, err := readFrame(conn)
			if err != nil {
				return
			}
			received <- f
		}
	})

	s := newTestSocket(t, server, Options{})
	s.Connect()
	for _, id := range []string{"a", "b"} {
		if _, err := s.EmitWithAck(context.Background(), id, "request", id, nil); err != nil {
			t.Fatalf("EmitWithAck(%s) error = %v", id, err)
		}
		select {
		case f := <-received:
			if f.ID != id {
				t.Errorf("frame id = %q, want %q", f.ID, id)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %q was not delivered", id)
		}
		// Forgetting a frame that is already on the wire is a no-op.
		s.Forget(id)
	}
}

func TestSocket_CloseBeforeServeSkipsDisconnect(t *testing.T) {
	server := startServer(t, func(r *http.Request, conn *websocket.Conn) {
		drain(conn)
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	s := New(Options{
		URL: wsURL(server),
		Callbacks: Callbacks{
			OnConnect: func() { t.Error("OnConnect called on a closed socket") },
		},
	})
	s.Close()

	reason, connected := s.serve(conn)
	if connected {
		t.Error("serve() reported a connection on a closed socket")
	}
	if reason != ReasonClientDisconnect {
		t.Errorf("reason = %q, want %q", reason, ReasonClientDisconnect)
	}
}
