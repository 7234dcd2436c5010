package client

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is wrapped by the ConfigurationError returned when a
// required credential is empty.
var ErrMissingCredential = errors.New("missing credential")

// ErrClientClosed is returned by requests issued on, or pending during, Close.
var ErrClientClosed = errors.New("client closed")

// ConfigurationError reports an invalid Config. It is returned by New
// before any connection is attempted.
type ConfigurationError struct {
	// Field is the offending configuration field, e.g. "apiKey".
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AIError is the error envelope returned by the service for a single call.
type AIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AIError) Error() string {
	return fmt.Sprintf("ai error %d: %s", e.Code, e.Message)
}

// TransportError reports a failure of the underlying connection that
// rejected a call.
type TransportError struct {
	// ID is the correlation id of the rejected call.
	ID  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectionError describes a failed connection attempt. It is only logged;
// the transport keeps retrying on its own.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
