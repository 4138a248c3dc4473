package chat

import (
	"encoding/json"
	"fmt"
	"io"
)

type EventType string

const (
	// EventStart opens a turn and carries the session id back to the client.
	EventStart EventType = "start"
	// EventToken carries one incremental fragment of a conversational reply.
	EventToken EventType = "token"
	// EventContent carries a complete formatted answer in one piece.
	EventContent EventType = "content"
	// EventError carries a user-safe failure message and terminates the
	// turn. No done event follows an error.
	EventError EventType = "error"
	// EventDone closes a successful turn and repeats the full final reply.
	EventDone EventType = "done"
)

type Event struct {
	Type      EventType `json:"type"`
	Data      string    `json:"data,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// WriteSSE encodes one event as a server-sent-events data frame.
func WriteSSE(w io.Writer, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	return nil
}

// WriteSSETerminator emits the sentinel frame that tells EventSource-style
// clients the stream is complete.
func WriteSSETerminator(w io.Writer) error {
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write stream terminator: %w", err)
	}
	return nil
}
