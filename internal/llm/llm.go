// Package llm abstracts the text-generation provider used for intent
// classification and SQL generation. The orchestrator depends only on the
// Client interface so the remote provider can be swapped for a
// deterministic double in tests.
package llm

import "context"

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	// Purpose labels the call for metrics ("classify", "generate", ...).
	Purpose     string
	Messages    []Message
	Temperature float64
}

type Response struct {
	Content string
	Model   string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
