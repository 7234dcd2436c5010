package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mindney/mindney-go/internal/logging"
	"github.com/mindney/mindney-go/pkg/transport"
)

// Header names carrying the credentials on the WebSocket handshake.
const (
	HeaderClientID    = "client-id"
	HeaderAPIKey      = "api-key"
	HeaderSecretToken = "secret-token"
)

// Transport is the realtime connection a Client runs on.
// *transport.Socket implements it.
type Transport interface {
	SetCallbacks(cb transport.Callbacks)
	Connect()
	Connected() bool
	EmitWithAck(ctx context.Context, id, event string, payload any, ack transport.AckFunc) (string, error)
	Forget(id string)
	OnError(fn func(*transport.Fault)) (off func())
	Close() error
}

// Client owns one authenticated session with the service.
// It is safe for concurrent use.
type Client struct {
	cfg       Config
	endpoint  string
	opts      *options
	logger    *slog.Logger
	transport Transport

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, builds the transport with the credential headers and
// starts connecting in the background. Validation happens before any
// network I/O; a missing credential yields a *ConfigurationError.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		cfg:      cfg,
		endpoint: cfg.EffectiveEndpoint(),
		opts:     o,
		closed:   make(chan struct{}),
	}
	logger := o.logger
	if logger == nil {
		logger = logging.Client()
	}
	c.logger = logging.WithEndpoint(logger, c.endpoint)

	newTransport := o.newTransport
	if newTransport == nil {
		newTransport = c.websocketTransport
	}
	t, err := newTransport(c.endpoint, c.handshakeHeader())
	if err != nil {
		return nil, &ConfigurationError{Field: "endpoint", Err: err}
	}
	c.transport = t

	t.SetCallbacks(transport.Callbacks{
		OnConnect:      c.onConnect,
		OnConnectError: c.onConnectError,
		OnDisconnect:   c.onDisconnect,
	})
	t.Connect()

	return c, nil
}

// Endpoint returns the service endpoint in use.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connected reports whether the transport currently holds a connection.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Close tears the session down. Pending requests fail with ErrClientClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

func (c *Client) handshakeHeader() http.Header {
	h := c.opts.header.Clone()
	h.Set(HeaderClientID, c.cfg.ClientID)
	h.Set(HeaderAPIKey, c.cfg.APIKey)
	h.Set(HeaderSecretToken, c.cfg.SecretToken)
	return h
}

func (c *Client) websocketTransport(endpoint string, header http.Header) (Transport, error) {
	u, err := transport.WebSocketURL(endpoint)
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Options{
		URL:       u,
		Header:    header,
		Dialer:    c.opts.dialer,
		Reconnect: c.opts.reconnect,
		Logger:    c.transportLogger(),
	}), nil
}

// transportLogger returns the socket's logger: nil unless debug is on, the
// caller's logger if one was given, otherwise the "transport" component.
func (c *Client) transportLogger() *slog.Logger {
	if !c.cfg.Debug {
		return nil
	}
	if c.opts.logger != nil {
		return c.logger
	}
	return logging.WithEndpoint(logging.Transport(), c.endpoint)
}

func (c *Client) onConnect() {
	c.log(slog.LevelInfo, "connected to AI service")
}

func (c *Client) onConnectError(err error) {
	c.log(slog.LevelError, "connection error",
		"error", errorDetail(&ConnectionError{Endpoint: c.endpoint, Err: err}))
}

func (c *Client) onDisconnect(reason string) {
	c.log(slog.LevelInfo, "disconnected from AI service", "reason", reason)
}

// log writes to the sink only in debug mode. Panics raised by the sink are
// swallowed.
func (c *Client) log(level slog.Level, msg string, args ...any) {
	if !c.cfg.Debug {
		return
	}
	defer func() { _ = recover() }()
	c.logger.Log(context.Background(), level, msg, args...)
}

// serialize renders v as JSON for log output.
func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

func errorDetail(err error) string {
	return serialize(map[string]string{
		"type":    fmt.Sprintf("%T", err),
		"message": err.Error(),
	})
}
