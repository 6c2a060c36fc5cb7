package lifecycle

import (
	"context"

	"github.com/aristath/taskflow/internal/task"
)

// Readiness reasons.
const (
	ReasonNotPending       = "Task is not in PENDING state"
	ReasonBlocked          = "Task is blocked"
	ReasonDependenciesOpen = "Not all dependencies are completed"
	ReasonNotInProgress    = "Task is not in IN_PROGRESS state"
)

// Readiness is the answer to "can this operation run now?".
// Reason is empty when Can is true.
type Readiness struct {
	Can    bool
	Reason string
}

type verdict struct {
	Readiness
	cause error // Typed guard failure behind Reason
}

func allowed() verdict { return verdict{Readiness: Readiness{Can: true}} }

func refused(reason string, cause error) verdict {
	return verdict{Readiness: Readiness{Reason: reason}, cause: cause}
}

// CanStart reports whether id could be started now.
func (s *Service) CanStart(ctx context.Context, id string) (Readiness, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Readiness{}, err
	}
	v, err := s.startVerdict(ctx, t)
	return v.Readiness, err
}

// CanComplete reports whether id could be completed or failed now.
func (s *Service) CanComplete(ctx context.Context, id string) (Readiness, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Readiness{}, err
	}
	return completeVerdict(t).Readiness, nil
}

func (s *Service) startVerdict(ctx context.Context, t *task.Task) (verdict, error) {
	if t.IsBlocked() {
		return refused(ReasonBlocked, stateErr(t, "start", task.StatusPending)), nil
	}
	if t.Status() != task.StatusPending {
		return refused(ReasonNotPending, stateErr(t, "start", task.StatusPending)), nil
	}
	met, unmet, err := s.graph.DependenciesMet(ctx, t)
	if err != nil {
		return verdict{}, err
	}
	if !met {
		return refused(ReasonDependenciesOpen, &task.DependencyNotMetError{TaskID: t.ID(), Unmet: unmet}), nil
	}
	return allowed(), nil
}

func completeVerdict(t *task.Task) verdict {
	if t.Status() != task.StatusInProgress {
		return refused(ReasonNotInProgress, stateErr(t, "complete", task.StatusInProgress))
	}
	return allowed()
}

func stateErr(t *task.Task, op string, required ...task.Status) error {
	return &task.StateError{TaskID: t.ID(), Op: op, Current: t.Status(), Required: required}
}
