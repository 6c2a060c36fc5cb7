package task

import (
	"slices"
	"time"
)

// Snapshot is a plain copy of a task's state, used by storage and by the CLI.
type Snapshot struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Status        Status          `json:"status"`
	Priority      Priority        `json:"priority"`
	AssignedAgent string          `json:"assignedAgent,omitempty"`
	ParentID      string          `json:"parentId,omitempty"`
	Dependencies  []string        `json:"dependencies"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Result        *ResultSnapshot `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	StartedAt     time.Time       `json:"startedAt,omitzero"`
	CompletedAt   time.Time       `json:"completedAt,omitzero"`
	DueDate       time.Time       `json:"dueDate,omitzero"`
}

// Snapshot exports the task state.
func (t *Task) Snapshot() Snapshot {
	s := Snapshot{
		ID:            t.id,
		Title:         t.title,
		Description:   t.description,
		Status:        t.status,
		Priority:      t.priority,
		AssignedAgent: t.assignedAgent,
		ParentID:      t.parentID,
		Dependencies:  slices.Clone(t.dependencies),
		Metadata:      copyMap(t.metadata),
		CreatedAt:     t.createdAt,
		UpdatedAt:     t.updatedAt,
		StartedAt:     t.startedAt,
		CompletedAt:   t.completedAt,
		DueDate:       t.dueDate,
	}
	if s.Dependencies == nil {
		s.Dependencies = []string{}
	}
	if t.result != nil {
		rs := t.result.Snapshot()
		s.Result = &rs
	}
	return s
}

// Restore rebuilds a task from a snapshot, rejecting states the state
// machine could never have produced.
func Restore(s Snapshot) (*Task, error) {
	if s.ID == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !s.Status.valid() {
		return nil, &ValidationError{TaskID: s.ID, Field: "status", Reason: "unknown status " + string(s.Status)}
	}
	if s.Priority.Rank() < 0 {
		return nil, &ValidationError{TaskID: s.ID, Field: "priority", Reason: "unknown priority " + string(s.Priority)}
	}
	finished := s.Status == StatusCompleted || s.Status == StatusFailed
	if finished != (s.Result != nil) {
		return nil, &ValidationError{TaskID: s.ID, Field: "result", Reason: "result must be set exactly when the task is COMPLETED or FAILED"}
	}
	if (s.Status == StatusCompleted) != !s.CompletedAt.IsZero() {
		return nil, &ValidationError{TaskID: s.ID, Field: "completedAt", Reason: "completedAt must be set exactly when the task is COMPLETED"}
	}
	deps, err := normalizeDependencies(s.ID, s.Dependencies)
	if err != nil {
		return nil, err
	}

	t := &Task{
		id:            s.ID,
		title:         s.Title,
		description:   s.Description,
		status:        s.Status,
		priority:      s.Priority,
		assignedAgent: s.AssignedAgent,
		parentID:      s.ParentID,
		dependencies:  deps,
		metadata:      copyMap(s.Metadata),
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		startedAt:     s.StartedAt,
		completedAt:   s.CompletedAt,
		dueDate:       s.DueDate,
	}
	if s.Result != nil {
		r := restoreResult(*s.Result)
		t.result = &r
	}
	return t, nil
}
