// Package lifecycle implements the task lifecycle service: CRUD, state
// transitions, dependency management, batch operations and statistics on top
// of a Repository.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/task"
)

// Repository persists tasks. Implementations return independent copies, so
// mutating a loaded task has no effect until it is saved. FindByID returns a
// *task.NotFoundError for unknown ids.
type Repository interface {
	scheduler.Source
	Save(ctx context.Context, t *task.Task) error
	// SaveMany persists every task or none of them.
	SaveMany(ctx context.Context, tasks []*task.Task) error
	FindAll(ctx context.Context, filter task.Filter) ([]*task.Task, error)
	// FindOverdue returns tasks with a due date before at that are not COMPLETED.
	FindOverdue(ctx context.Context, at time.Time) ([]*task.Task, error)
	Delete(ctx context.Context, id string) error
	// DeleteMany removes every id or none of them.
	DeleteMany(ctx context.Context, ids []string) error
}

// Service coordinates task mutations. Each mutating call loads the task,
// applies one state machine operation and saves it exactly once, all under a
// per-task lock so concurrent callers in this process cannot interleave.
type Service struct {
	repo  Repository
	graph *scheduler.Graph
	locks *scheduler.KeyedLocker
	depMu sync.Mutex // Serializes cycle check + save across all dependency edits
	bus   events.Publisher
	log   *logrus.Entry
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes task events to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// WithLogger sets the service logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the clock used for overdue queries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		graph: scheduler.NewGraph(repo),
		locks: scheduler.NewKeyedLocker(),
		log:   logger.Discard(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutate runs op on a freshly loaded task under its lock and saves the result.
func (s *Service) mutate(ctx context.Context, id, op string, apply func(*task.Task) error) (*task.Task, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := t.Status()
	if err := apply(t); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save task %s: %w", id, err)
	}

	s.log.WithFields(logrus.Fields{
		"task_id": id,
		"op":      op,
		"from":    from,
		"to":      t.Status(),
	}).Debug("task updated")
	s.publishTransition(t, op, string(from))
	return t, nil
}

func (s *Service) publishTransition(t *task.Task, op, from string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicTask, events.TaskTransitionEvent{
		ID:        t.ID(),
		Op:        op,
		From:      from,
		To:        string(t.Status()),
		AgentID:   t.AssignedAgent(),
		Timestamp: time.Now(),
	})
}

func (s *Service) publishAssigned(t *task.Task) {
	if s.bus == nil || t.AssignedAgent() == "" {
		return
	}
	s.bus.Publish(events.TopicTask, events.TaskAssignedEvent{
		ID:        t.ID(),
		AgentID:   t.AssignedAgent(),
		Timestamp: time.Now(),
	})
}

// CreateTask validates spec, checks that its parent and dependencies exist,
// and persists a new PENDING task. A task created with an agent announces the
// assignment like AssignTask does.
func (s *Service) CreateTask(ctx context.Context, spec task.CreateSpec) (*task.Task, error) {
	t, err := s.prepareCreate(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	s.log.WithFields(logrus.Fields{"task_id": t.ID(), "title": t.Title()}).Info("task created")
	s.publishTransition(t, "create", "")
	s.publishAssigned(t)
	return t, nil
}

func (s *Service) prepareCreate(ctx context.Context, spec task.CreateSpec) (*task.Task, error) {
	t, err := task.New(spec)
	if err != nil {
		return nil, err
	}
	if parentID := t.ParentID(); parentID != "" {
		if err := s.requireExists(ctx, parentID, "parentId"); err != nil {
			return nil, err
		}
	}
	for _, depID := range t.Dependencies() {
		if err := s.requireExists(ctx, depID, "dependencies"); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (s *Service) requireExists(ctx context.Context, id, field string) error {
	_, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, task.ErrNotFound) {
		return &task.ValidationError{Field: field, Reason: "unknown task " + id}
	}
	return err
}

// GetTaskByID returns the task with id or a *task.NotFoundError.
func (s *Service) GetTaskByID(ctx context.Context, id string) (*task.Task, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdateTask applies a partial update.
func (s *Service) UpdateTask(ctx context.Context, id string, spec task.UpdateSpec) (*task.Task, error) {
	return s.mutate(ctx, id, "update", func(t *task.Task) error {
		return t.Apply(spec)
	})
}

// DeleteTask removes a task that is not IN_PROGRESS. Tasks that depend on it
// keep the dangling id, which counts as an unmet dependency.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := checkDeletable(t); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	s.log.WithField("task_id", id).Info("task deleted")
	if s.bus != nil {
		s.bus.Publish(events.TopicTask, events.TaskTransitionEvent{
			ID: id, Op: "delete", From: string(t.Status()), Timestamp: time.Now(),
		})
	}
	return nil
}

func checkDeletable(t *task.Task) error {
	if t.Status() != task.StatusInProgress {
		return nil
	}
	return &task.OperationError{
		TaskID: t.ID(),
		Op:     "delete",
		Reason: "Cannot delete a task that is in progress",
		Err: &task.StateError{
			TaskID:   t.ID(),
			Op:       "delete",
			Current:  t.Status(),
			Required: []task.Status{task.StatusPending, task.StatusBlocked, task.StatusCompleted, task.StatusFailed, task.StatusCancelled},
		},
	}
}

// StartTask moves a task to IN_PROGRESS for agentID once CanStart allows it.
// A refusal is an *task.OperationError carrying the readiness reason.
func (s *Service) StartTask(ctx context.Context, id, agentID string) (*task.Task, error) {
	return s.mutate(ctx, id, "start", func(t *task.Task) error {
		v, err := s.startVerdict(ctx, t)
		if err != nil {
			return err
		}
		if !v.Can {
			return &task.OperationError{TaskID: id, Op: "start", Reason: v.Reason, Err: v.cause}
		}
		return t.Start(agentID)
	})
}

// CompleteTask records result and moves the task to COMPLETED.
func (s *Service) CompleteTask(ctx context.Context, id string, result task.Result) (*task.Task, error) {
	return s.mutate(ctx, id, "complete", func(t *task.Task) error {
		if v := completeVerdict(t); !v.Can {
			return &task.OperationError{TaskID: id, Op: "complete", Reason: v.Reason, Err: v.cause}
		}
		return t.Complete(result)
	})
}

// FailTask records errMsg as the task's error result and moves it to FAILED.
func (s *Service) FailTask(ctx context.Context, id, errMsg string) (*task.Task, error) {
	return s.mutate(ctx, id, "fail", func(t *task.Task) error {
		if v := completeVerdict(t); !v.Can {
			return &task.OperationError{TaskID: id, Op: "fail", Reason: v.Reason, Err: v.cause}
		}
		return t.Fail(errMsg)
	})
}

// BlockTask pauses a task with reason.
func (s *Service) BlockTask(ctx context.Context, id, reason string) (*task.Task, error) {
	return s.mutate(ctx, id, "block", func(t *task.Task) error {
		return t.Block(reason)
	})
}

// UnblockTask resumes a BLOCKED task.
func (s *Service) UnblockTask(ctx context.Context, id string) (*task.Task, error) {
	return s.mutate(ctx, id, "unblock", func(t *task.Task) error {
		return t.Unblock()
	})
}

// CancelTask abandons a task that has not reached a terminal status.
func (s *Service) CancelTask(ctx context.Context, id, reason string) (*task.Task, error) {
	return s.mutate(ctx, id, "cancel", func(t *task.Task) error {
		return t.Cancel(reason)
	})
}

// AssignTask assigns agentID and announces it with a TaskAssignedEvent,
// which triggers orchestration when the bus feeds the dispatcher.
func (s *Service) AssignTask(ctx context.Context, id, agentID string) (*task.Task, error) {
	t, err := s.mutate(ctx, id, "assign", func(t *task.Task) error {
		return t.AssignTo(agentID)
	})
	if err != nil {
		return nil, err
	}
	s.publishAssigned(t)
	return t, nil
}

// UnassignTask clears the assigned agent.
func (s *Service) UnassignTask(ctx context.Context, id string) (*task.Task, error) {
	return s.mutate(ctx, id, "unassign", func(t *task.Task) error {
		return t.Unassign()
	})
}

// AddTaskDependency makes id depend on depID. The cycle check and the save
// run under one service-wide lock so two concurrent edits cannot together
// close a cycle that neither would alone.
func (s *Service) AddTaskDependency(ctx context.Context, id, depID string) (*task.Task, error) {
	s.depMu.Lock()
	defer s.depMu.Unlock()

	return s.mutate(ctx, id, "add_dependency", func(t *task.Task) error {
		return s.graph.AddDependency(ctx, t, depID)
	})
}

// RemoveTaskDependency drops depID from id's dependencies. Idempotent.
func (s *Service) RemoveTaskDependency(ctx context.Context, id, depID string) (*task.Task, error) {
	s.depMu.Lock()
	defer s.depMu.Unlock()

	return s.mutate(ctx, id, "remove_dependency", func(t *task.Task) error {
		s.graph.RemoveDependency(t, depID)
		return nil
	})
}

// GetTaskDependencies returns the tasks id depends on. Dependencies that no
// longer exist are skipped.
func (s *Service) GetTaskDependencies(ctx context.Context, id string) ([]*task.Task, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	deps := make([]*task.Task, 0, len(t.Dependencies()))
	for _, depID := range t.Dependencies() {
		dep, err := s.repo.FindByID(ctx, depID)
		if errors.Is(err, task.ErrNotFound) {
			s.log.WithFields(logrus.Fields{"task_id": id, "dependency_id": depID}).Warn("dependency no longer exists")
			continue
		}
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// GetTaskDependents returns the tasks that depend directly on id.
func (s *Service) GetTaskDependents(ctx context.Context, id string) ([]*task.Task, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.graph.Dependents(ctx, id)
}

// CheckDependenciesMet reports whether every dependency of id is COMPLETED.
func (s *Service) CheckDependenciesMet(ctx context.Context, id string) (bool, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	met, _, err := s.graph.DependenciesMet(ctx, t)
	return met, err
}
