package client

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// TransportFunc builds the transport for a session. header carries the
// credential headers and must be sent with the very first handshake.
type TransportFunc func(endpoint string, header http.Header) (Transport, error)

// Option configures the client.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	newTransport TransportFunc
	limiter      *rate.Limiter
	dialer       *websocket.Dialer
	reconnect    bool
	header       http.Header
}

func defaultOptions() *options {
	return &options{
		reconnect: true,
		header:    http.Header{},
	}
}

// WithLogger sets the logging sink used when Config.Debug is true.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTransport replaces the default WebSocket transport.
func WithTransport(fn TransportFunc) Option {
	return func(o *options) {
		o.newTransport = fn
	}
}

// WithRateLimit paces outbound requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) {
		o.limiter = rate.NewLimiter(r, burst)
	}
}

// WithDialer sets the WebSocket dialer of the default transport.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithReconnect controls whether the default transport re-dials after a
// disconnect. Default is true.
func WithReconnect(enabled bool) Option {
	return func(o *options) {
		o.reconnect = enabled
	}
}

// WithHeader adds a handshake header. Credential headers cannot be overridden.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}
