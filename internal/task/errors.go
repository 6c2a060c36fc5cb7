package task

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every typed error in this package unwraps to exactly one of these,
// so callers can branch with errors.Is and still reach the details with errors.As.
var (
	ErrValidation         = errors.New("task validation failed")
	ErrState              = errors.New("invalid task state")
	ErrNotFound           = errors.New("task not found")
	ErrCircularDependency = errors.New("circular dependency")
	ErrOperation          = errors.New("task operation rejected")
	ErrDependenciesNotMet = errors.New("dependencies not met")
)

// ValidationError reports malformed input for a task.
type ValidationError struct {
	TaskID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid task")
	if e.TaskID != "" {
		b.WriteString(" " + e.TaskID)
	}
	if e.Field != "" {
		b.WriteString(": " + e.Field)
	}
	b.WriteString(": " + e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateError reports an operation attempted from a state that does not allow it.
type StateError struct {
	TaskID   string
	Op       string
	Current  Status
	Required []Status
}

func (e *StateError) Error() string {
	required := make([]string, len(e.Required))
	for i, s := range e.Required {
		required[i] = string(s)
	}
	return fmt.Sprintf("cannot %s task %s: status is %s, requires %s",
		e.Op, e.TaskID, e.Current, strings.Join(required, " or "))
}

func (e *StateError) Unwrap() error { return ErrState }

// NotFoundError reports a lookup for an id that does not exist.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CircularDependencyError reports a dependency edge that would close a cycle.
// Path runs from TaskID through its dependents back to DependencyID.
type CircularDependencyError struct {
	TaskID       string
	DependencyID string
	Path         []string
}

func (e *CircularDependencyError) Error() string {
	msg := fmt.Sprintf("adding dependency %s to task %s would create a cycle", e.DependencyID, e.TaskID)
	if len(e.Path) > 0 {
		msg += " (" + strings.Join(e.Path, " <- ") + ")"
	}
	return msg
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// OperationError reports a lifecycle operation refused for a business reason,
// e.g. starting a task whose dependencies have not completed. Err, when set,
// is the underlying guard failure and is reachable through errors.Is/As.
type OperationError struct {
	TaskID string
	Op     string
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("cannot %s task %s: %s", e.Op, e.TaskID, e.Reason)
}

func (e *OperationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOperation}
	}
	return []error{ErrOperation, e.Err}
}

// DependencyNotMetError reports the dependencies of a task that are not COMPLETED yet.
type DependencyNotMetError struct {
	TaskID string
	Unmet  []string
}

func (e *DependencyNotMetError) Error() string {
	return fmt.Sprintf("task %s has unmet dependencies: %s", e.TaskID, strings.Join(e.Unmet, ", "))
}

func (e *DependencyNotMetError) Unwrap() error { return ErrDependenciesNotMet }
