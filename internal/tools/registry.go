package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/logger"
)

// DefaultTimeout bounds a single tool run unless the Registry is told otherwise.
const DefaultTimeout = 30 * time.Second

// Registry is the Executor used by the orchestration loop.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	log     *logrus.Entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithLogger sets the registry logger.
func WithLogger(l *logrus.Entry) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		timeout: DefaultTimeout,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs t. Returns an error if its id is empty or taken.
func (r *Registry) Register(t Tool) error {
	id := t.Spec().ID
	if id == "" {
		return fmt.Errorf("tools: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("tools: %s already registered", id)
	}
	r.tools[id] = t
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// Specs returns every registered Spec sorted by id.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Execute validates args against the tool's Spec and runs it under the
// registry timeout. A panic or error inside the tool becomes a failed Result.
func (r *Registry) Execute(ctx context.Context, id string, args map[string]any, tc Context) (Result, error) {
	r.mu.RLock()
	t, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	if err := ValidateArgs(t.Spec(), args); err != nil {
		return Result{}, err
	}

	log := r.log.WithFields(logrus.Fields{"tool": id, "task_id": tc.TaskID, "agent_id": tc.AgentID})
	start := time.Now()
	res := r.run(ctx, t, args, tc)
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	entry := log.WithFields(logrus.Fields{"success": res.Success, "duration": time.Since(start)})
	if res.Success {
		entry.Debug("tool executed")
	} else {
		entry.WithField("error", res.Error).Warn("tool failed")
	}
	return res, nil
}

func (r *Registry) run(ctx context.Context, t Tool, args map[string]any, tc Context) Result {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Failed(fmt.Sprintf("tool panicked: %v", p))
			}
		}()
		res, err := t.Run(ctx, args, tc)
		if err != nil {
			res = Failed(err.Error())
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Failed(fmt.Sprintf("tool timed out after %s", r.timeout))
		}
		return Failed(ctx.Err().Error())
	}
}

// ValidateArgs checks that every required argument is present and that each
// declared argument has the declared JSON kind.
func ValidateArgs(spec Spec, args map[string]any) error {
	for _, a := range spec.Args {
		v, present := args[a.Name]
		if !present {
			if a.Required {
				return fmt.Errorf("%w: required argument '%s' is missing", ErrInvalidArguments, a.Name)
			}
			continue
		}
		if kind := kindOf(v); kind != a.Type {
			return fmt.Errorf("%w: argument '%s' must be of type '%s', got '%s'", ErrInvalidArguments, a.Name, a.Type, kind)
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64, float32, int, int64, int32:
		return TypeNumber
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
