// Package llm defines the completion contract the orchestrator talks to and
// the provider error taxonomy shared by every backend.
package llm

import (
	"context"
	"time"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// Config tunes a single completion.
type Config struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	Timeout     time.Duration // Zero means no per-call timeout
}

// DefaultConfig returns the settings used when a request leaves Config zero.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   2048,
		Temperature: 0.7,
		TopP:        1,
		Timeout:     30 * time.Second,
	}
}

// Request is a completion request. Provider selects the backend when the
// Completer routes between several; Model overrides the provider default.
type Request struct {
	Messages []Message
	Provider string
	Model    string
	Config   Config
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Response is a completion result.
type Response struct {
	Content  string
	Usage    Usage
	Metadata map[string]any
}

// Completer produces a completion for a request. Implementations return an
// *Error for provider failures so callers can tell transient from permanent.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
