package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/llm"
)

// Config defines one CLI provider.
type Config struct {
	Name    string   // Provider key, used in errors and breaker names
	Type    string   // "claude" or "goose"
	Command string   // Binary to run, defaults to Type
	Args    []string // Appended to every invocation
	WorkDir string
}

// ConfigFromProvider converts a configured provider entry.
func ConfigFromProvider(name string, p config.ProviderConfig) Config {
	return Config{
		Name:    name,
		Type:    p.Type,
		Command: p.Command,
		Args:    p.Args,
	}
}

func (c Config) command() string {
	if c.Command != "" {
		return c.Command
	}
	return c.Type
}

func (c Config) name() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// flatten splits messages into the system prompt and a single prompt the
// CLI can take as an argument. One user turn is sent as is; longer
// conversations become a labelled transcript.
func flatten(msgs []llm.Message) (system, prompt string) {
	var sys []string
	var turns []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	system = strings.Join(sys, "\n\n")

	if len(turns) == 1 && turns[0].Role == llm.RoleUser {
		return system, turns[0].Content
	}
	var b strings.Builder
	for i, m := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch m.Role {
		case llm.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
	}
	return system, b.String()
}

// withCallTimeout applies the request timeout, if any.
func withCallTimeout(ctx context.Context, cfg llm.Config) (context.Context, context.CancelFunc) {
	if cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, cfg.Timeout)
}

// classify turns a failed CLI run into an llm error.
func classify(ctx context.Context, provider, model string, timeout time.Duration, err error, stderr []byte) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return llm.NewTimeoutError(provider, model, timeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s completion cancelled: %w", provider, ctx.Err())
	case rateLimited(string(stderr)):
		return llm.NewRateLimitError(provider, model, firstLine(stderr))
	case tokenLimited(string(stderr)):
		return llm.NewTokenLimitError(provider, model, 0, 0)
	}
	return llm.NewProviderError(provider, model, fmt.Sprintf("%s command failed: %v", provider, err), err)
}

func rateLimited(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests") || strings.Contains(s, "429")
}

func tokenLimited(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "context length") || strings.Contains(s, "prompt is too long") || strings.Contains(s, "maximum context")
}

func firstLine(b []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	return line
}
