// Package backend runs CLI coding agents (claude, goose) as llm.Completers.
// Every invocation is a fresh subprocess in its own process group.
package backend

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/llm"
)

// New creates a completer based on the provider type.
func New(cfg Config, pm *ProcessManager) (llm.Completer, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeCompleter(cfg, pm)
	case "goose":
		return NewGooseCompleter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Router dispatches each request to the completer registered under
// req.Provider, or to the fallback when the request names none.
type Router struct {
	mu         sync.RWMutex
	completers map[string]llm.Completer
	fallback   string
}

// NewRouter creates an empty router.
func NewRouter(fallback string) *Router {
	return &Router{completers: make(map[string]llm.Completer), fallback: fallback}
}

// Register adds or replaces the completer for name.
func (r *Router) Register(name string, c llm.Completer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completers[name] = c
}

// Providers lists the registered provider names in sorted order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.completers))
}

func (r *Router) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	name := req.Provider
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	c, ok := r.completers[name]
	r.mu.RUnlock()
	if !ok {
		return llm.Response{}, llm.NewInvalidRequestError(name, req.Model, fmt.Sprintf("unknown provider %q", name))
	}
	return c.Complete(ctx, req)
}

// NewRouterFromConfig builds a completer for every configured provider,
// wrapped in the retry and circuit breaker policy from cfg.Retry.
func NewRouterFromConfig(cfg *config.Config, pm *ProcessManager, log *logrus.Entry) (*Router, error) {
	retry := llm.RetryConfig{
		Enabled:             cfg.Retry.Enabled,
		InitialInterval:     cfg.Retry.InitialInterval,
		MaxInterval:         cfg.Retry.MaxInterval,
		MaxElapsedTime:      cfg.Retry.MaxElapsedTime,
		Multiplier:          cfg.Retry.Multiplier,
		RandomizationFactor: cfg.Retry.RandomizationFactor,
	}
	breakers := llm.NewBreakerRegistry(log)

	names := slices.Sorted(maps.Keys(cfg.Providers))
	fallback := ""
	if len(names) > 0 {
		fallback = names[0]
	}
	router := NewRouter(fallback)
	for _, name := range names {
		c, err := New(ConfigFromProvider(name, cfg.Providers[name]), pm)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		router.Register(name, llm.NewResilient(c, name, breakers, retry))
	}
	return router, nil
}
