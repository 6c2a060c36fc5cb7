package lifecycle

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/task"
)

// TaskUpdate pairs a task id with the partial update to apply to it.
type TaskUpdate struct {
	ID   string
	Spec task.UpdateSpec
}

// CreateTasks validates every spec before persisting any of them. The first
// invalid spec aborts the batch with its index and nothing is saved.
func (s *Service) CreateTasks(ctx context.Context, specs []task.CreateSpec) ([]*task.Task, error) {
	created := make([]*task.Task, 0, len(specs))
	for i, spec := range specs {
		t, err := s.prepareCreate(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("invalid task at index %d: %w", i, err)
		}
		created = append(created, t)
	}
	if len(created) == 0 {
		return created, nil
	}

	if err := s.repo.SaveMany(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to save task batch: %w", err)
	}

	s.log.WithField("count", len(created)).Info("task batch created")
	for _, t := range created {
		s.publishTransition(t, "create", "")
		s.publishAssigned(t)
	}
	return created, nil
}

// UpdateTasks applies every update or none. All affected tasks stay locked
// from validation until the batch is saved.
func (s *Service) UpdateTasks(ctx context.Context, updates []TaskUpdate) ([]*task.Task, error) {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	s.locks.LockAll(ids)
	defer s.locks.UnlockAll(ids)

	// Repeated ids must see each other's changes, so reuse loaded tasks
	loaded := make(map[string]*task.Task, len(updates))
	var ordered []*task.Task
	for i, u := range updates {
		t, ok := loaded[u.ID]
		if !ok {
			var err error
			t, err = s.repo.FindByID(ctx, u.ID)
			if err != nil {
				return nil, fmt.Errorf("invalid task at index %d: %w", i, err)
			}
			loaded[u.ID] = t
			ordered = append(ordered, t)
		}
		if err := t.Apply(u.Spec); err != nil {
			return nil, fmt.Errorf("invalid task at index %d: %w", i, err)
		}
	}
	if len(ordered) == 0 {
		return ordered, nil
	}

	if err := s.repo.SaveMany(ctx, ordered); err != nil {
		return nil, fmt.Errorf("failed to save task batch: %w", err)
	}

	s.log.WithField("count", len(ordered)).Info("task batch updated")
	for _, t := range ordered {
		s.publishTransition(t, "update", string(t.Status()))
	}
	return ordered, nil
}

// DeleteTasks removes every id or none. Any IN_PROGRESS or unknown task aborts the batch.
func (s *Service) DeleteTasks(ctx context.Context, ids []string) error {
	s.locks.LockAll(ids)
	defer s.locks.UnlockAll(ids)

	statuses := make(map[string]task.Status, len(ids))
	var unique []string
	for i, id := range ids {
		if _, seen := statuses[id]; seen {
			continue
		}
		t, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("invalid task at index %d: %w", i, err)
		}
		if err := checkDeletable(t); err != nil {
			return fmt.Errorf("invalid task at index %d: %w", i, err)
		}
		statuses[id] = t.Status()
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil
	}

	if err := s.repo.DeleteMany(ctx, unique); err != nil {
		return fmt.Errorf("failed to delete task batch: %w", err)
	}

	s.log.WithFields(logrus.Fields{"count": len(unique)}).Info("task batch deleted")
	if s.bus != nil {
		for _, id := range unique {
			s.bus.Publish(events.TopicTask, events.TaskTransitionEvent{ID: id, Op: "delete", From: string(statuses[id])})
		}
	}
	return nil
}
