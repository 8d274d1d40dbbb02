// Package llm provides the language-model client used for instant
// answer synthesis, content-rating assistance, and staff chat.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is one turn in a role-tagged transcript.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is a completion request. System carries instructions outside
// the transcript; MaxTokens bounds output size (and therefore cost).
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Response is the unified result of a completion call.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// StreamFunc receives incremental text tokens during a streaming call.
type StreamFunc func(token string)

// Client is the interface the pipeline depends on. The concrete
// Anthropic implementation lives in this package; tests substitute
// scripted fakes.
type Client interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// CompleteStream sends a completion request, forwarding tokens to
	// stream as they arrive. The returned Response carries the full
	// accumulated text.
	CompleteStream(ctx context.Context, req Request, stream StreamFunc) (*Response, error)

	// Ping checks whether the provider is reachable with the
	// configured credentials.
	Ping(ctx context.Context) error
}
