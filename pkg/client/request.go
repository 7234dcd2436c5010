package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mindney/mindney-go/pkg/transport"
)

// Request sends msg on the "request" event and waits for its reply.
//
// A reply carrying a "code" field fails the call with *AIError. Any other
// reply is decoded into *Message[U]. A transport fault that targets this
// call, or the whole connection, fails it with *TransportError.
//
// Request has no timeout of its own: it returns early only when ctx is done
// or the client is closed.
func Request[U, T any](ctx context.Context, c *Client, msg OutboundMessage[T]) (*Message[U], error) {
	id, data, err := c.call(ctx, msg.Prompt, msg.Body, msg)
	if err != nil {
		return nil, err
	}

	reply, err := decodeReply[U](data)
	if err != nil {
		var aiErr *AIError
		if errors.As(err, &aiErr) {
			return nil, aiErr
		}
		return nil, &TransportError{ID: id, Err: err}
	}
	return reply, nil
}

// Request is the untyped form of the package-level Request. The reply data
// is left undecoded.
func (c *Client) Request(ctx context.Context, prompt string, body any) (*Message[json.RawMessage], error) {
	return Request[json.RawMessage](ctx, c, OutboundMessage[any]{Prompt: prompt, Body: body})
}

type result struct {
	data json.RawMessage
	err  error
}

// call emits payload and blocks until its ack, a matching fault, ctx or
// Close, whichever comes first. It returns the call's correlation id with
// the ack data. The error observer lives only as long as the call.
func (c *Client) call(ctx context.Context, prompt string, body, payload any) (string, json.RawMessage, error) {
	select {
	case <-c.closed:
		return "", nil, ErrClientClosed
	default:
	}

	c.log(slog.LevelInfo, "sending request", "prompt", prompt, "body", serialize(body))

	if l := c.opts.limiter; l != nil {
		if err := l.Wait(ctx); err != nil {
			return "", nil, limitError(ctx, l, err)
		}
	}

	id := uuid.NewString()
	settled := make(chan result, 1)
	settle := func(r result) {
		select {
		case settled <- r:
		default:
		}
	}

	off := c.transport.OnError(func(f *transport.Fault) {
		if f.ID != "" && f.ID != id {
			return
		}
		settle(result{err: f.Err})
	})
	defer off()

	ack := func(data json.RawMessage) {
		settle(result{data: data})
	}
	if _, err := c.transport.EmitWithAck(ctx, id, RequestEvent, payload, ack); err != nil {
		switch {
		case errors.Is(err, transport.ErrClosed):
			return id, nil, ErrClientClosed
		case ctx.Err() != nil:
			return id, nil, ctx.Err()
		}
		return id, nil, c.transportError(id, err)
	}

	select {
	case r := <-settled:
		if r.err != nil {
			c.transport.Forget(id)
			return id, nil, c.transportError(id, r.err)
		}
		return id, r.data, nil
	case <-ctx.Done():
		c.transport.Forget(id)
		return id, nil, ctx.Err()
	case <-c.closed:
		c.transport.Forget(id)
		return id, nil, ErrClientClosed
	}
}

// limitError maps a limiter failure onto the context errors callers test
// for. rate.Limiter refuses up front when the wait would outlast the
// deadline, before ctx itself is done.
func limitError(ctx context.Context, l *rate.Limiter, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok && l.Burst() > 0 {
		return fmt.Errorf("rate limit wait exceeds deadline: %w", context.DeadlineExceeded)
	}
	return fmt.Errorf("rate limit: %w", err)
}

func (c *Client) transportError(id string, err error) error {
	terr := &TransportError{ID: id, Err: err}
	c.log(slog.LevelError, "request failed", "id", id, "error", errorDetail(terr))
	return terr
}
