package persistence

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskflow/internal/task"
)

// InMemoryStore keeps tasks and memory entries in process memory. Tasks are
// held as snapshots, so callers never share state with the store.
type InMemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]task.Snapshot
	memory []MemoryEntry
	now    func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]task.Snapshot),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Save(ctx context.Context, t *task.Task) error {
	return s.SaveMany(ctx, []*task.Task{t})
}

func (s *InMemoryStore) SaveMany(_ context.Context, tasks []*task.Task) error {
	snaps := make([]task.Snapshot, len(tasks))
	for i, t := range tasks {
		snaps[i] = t.Snapshot()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		if prev, ok := s.tasks[snap.ID]; ok {
			snap.CreatedAt = prev.CreatedAt
		}
		s.tasks[snap.ID] = snap
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	snap, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &task.NotFoundError{TaskID: id}
	}
	return task.Restore(snap)
}

func (s *InMemoryStore) FindAll(_ context.Context, filter task.Filter) ([]*task.Task, error) {
	return s.collect(filter.Matches)
}

func (s *InMemoryStore) FindDependents(_ context.Context, id string) ([]*task.Task, error) {
	return s.collect(func(t *task.Task) bool { return t.HasDependency(id) })
}

func (s *InMemoryStore) FindOverdue(_ context.Context, at time.Time) ([]*task.Task, error) {
	return s.collect(func(t *task.Task) bool { return t.IsOverdue(at) })
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	return s.DeleteMany(ctx, []string{id})
}

func (s *InMemoryStore) DeleteMany(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.tasks[id]; !ok {
			return &task.NotFoundError{TaskID: id}
		}
	}
	for _, id := range ids {
		delete(s.tasks, id)
	}
	return nil
}

// collect restores every stored task accepted by keep, oldest first.
func (s *InMemoryStore) collect(keep func(*task.Task) bool) ([]*task.Task, error) {
	s.mu.RLock()
	snaps := slices.Collect(maps.Values(s.tasks))
	s.mu.RUnlock()

	slices.SortFunc(snaps, func(a, b task.Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var out []*task.Task
	for _, snap := range snaps {
		t, err := task.Restore(snap)
		if err != nil {
			return nil, err
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Store(_ context.Context, content string, metadata map[string]any, agentID string) error {
	entry := MemoryEntry{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		TaskID:    taskIDOf(metadata),
		Content:   content,
		Metadata:  maps.Clone(metadata),
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.memory = append(s.memory, entry)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) ListByTask(_ context.Context, taskID string, limit int) ([]MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []MemoryEntry{}
	for _, e := range s.memory {
		if e.TaskID == taskID {
			e.Metadata = maps.Clone(e.Metadata)
			entries = append(entries, e)
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
