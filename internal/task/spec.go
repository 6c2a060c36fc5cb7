package task

import "time"

// CreateSpec describes a task to be created.
type CreateSpec struct {
	Title         string
	Description   string
	Priority      Priority // Defaults to MEDIUM
	ParentID      string
	AssignedAgent string
	Dependencies  []string
	Metadata      map[string]any
	DueDate       time.Time
}

// UpdateSpec carries a partial update. Nil fields are left untouched.
type UpdateSpec struct {
	Title       *string
	Description *string
	Priority    *Priority
	DueDate     *time.Time
	Metadata    map[string]any // Merged into existing metadata
}

// Filter selects tasks. Zero-valued fields match everything.
type Filter struct {
	Status   Status
	Priority Priority
	AgentID  string
	ParentID string
}

// Matches reports whether t satisfies every set field of f.
func (f Filter) Matches(t *Task) bool {
	if f.Status != "" && t.status != f.Status {
		return false
	}
	if f.Priority != "" && t.priority != f.Priority {
		return false
	}
	if f.AgentID != "" && t.assignedAgent != f.AgentID {
		return false
	}
	if f.ParentID != "" && t.parentID != f.ParentID {
		return false
	}
	return true
}
