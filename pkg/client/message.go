package client

import (
	"encoding/json"
	"fmt"
)

// RequestEvent is the call identifier every request is emitted on.
const RequestEvent = "request"

// OutboundMessage is one call to the service: a prompt plus optional
// contextual data.
type OutboundMessage[T any] struct {
	Prompt string `json:"prompt"`
	Body   T      `json:"body,omitempty"`
}

// Message is the success envelope. Operation names the server-side
// operation that produced Data.
type Message[U any] struct {
	Operation string `json:"operation"`
	Data      U      `json:"data"`
}

// decodeReply classifies an ack payload. A "code" key marks an error
// envelope regardless of any other keys; anything else is a success
// envelope.
func decodeReply[U any](data json.RawMessage) (*Message[U], error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("malformed reply %s", truncate(data, 128))
	}

	if _, ok := fields["code"]; ok {
		var aiErr AIError
		if err := json.Unmarshal(data, &aiErr); err != nil {
			return nil, fmt.Errorf("malformed error envelope: %w", err)
		}
		return nil, &aiErr
	}

	var msg Message[U]
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode %T: %w", msg.Data, err)
	}
	return &msg, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
