// Package client is a Go client for the Mindney AI service.
//
// A Client keeps one authenticated WebSocket session open and turns each
// call into an awaitable request/reply exchange over it.
//
// # Basic Usage
//
//	c, err := client.New(client.Config{
//	    Credentials: client.Credentials{
//	        ClientID:    "my-client",
//	        APIKey:      os.Getenv("MINDNEY_API_KEY"),
//	        SecretToken: os.Getenv("MINDNEY_SECRET_TOKEN"),
//	    },
//	    Debug: true,
//	})
//	if err != nil {
//	    log.Fatal(err) // *client.ConfigurationError when a credential is missing
//	}
//	defer c.Close()
//
// # Typed Requests
//
// Request is generic over the reply data and the contextual body:
//
//	type Summary struct{ Text string `json:"text"` }
//
//	reply, err := client.Request[Summary](ctx, c, client.OutboundMessage[map[string]any]{
//	    Prompt: "Summarize this document",
//	    Body:   map[string]any{"documentId": 42},
//	})
//	var aiErr *client.AIError
//	switch {
//	case errors.As(err, &aiErr):
//	    fmt.Println("service refused:", aiErr.Code, aiErr.Message)
//	case err != nil:
//	    log.Fatal(err)
//	default:
//	    fmt.Println(reply.Operation, reply.Data.Text)
//	}
//
// # Timeouts
//
// Requests have no built-in timeout or retry. A call that never receives a
// reply blocks until its context is done, so pass a context with a deadline:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	reply, err := c.Request(ctx, "Hello", nil)
//
// # Wire Contract
//
// Credentials travel as the client-id, api-key and secret-token headers of
// the WebSocket handshake. Each call is emitted on the "request" event with a
// unique correlation id. A transport error frame carrying that id fails only
// that call; a connection-level failure fails every call still in flight.
package client
