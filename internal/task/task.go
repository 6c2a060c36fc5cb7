// Package task holds the Task entity and its state machine.
//
// Every status change goes through a method on *Task that checks the current
// status first and returns a *StateError when the transition is not allowed.
// Fields are unexported so nothing outside this package can skip those checks;
// storage goes through Snapshot and Restore.
package task

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata keys written by the state machine.
const (
	MetaBlockReason  = "blockReason"
	MetaBlockedAt    = "blockedAt"
	MetaCancelReason = "cancelReason"
	MetaCancelledAt  = "cancelledAt"
)

var now = func() time.Time { return time.Now().UTC() }

// Task is a unit of work executed by an agent.
type Task struct {
	id            string
	title         string
	description   string
	status        Status
	priority      Priority
	assignedAgent string // Weak reference, the agent may not exist
	parentID      string
	dependencies  []string // Ordered, no duplicates, never contains id
	metadata      map[string]any
	result        *Result // Set iff status is COMPLETED or FAILED
	createdAt     time.Time
	updatedAt     time.Time
	startedAt     time.Time
	completedAt   time.Time // Set iff status is COMPLETED
	dueDate       time.Time
}

// New creates a PENDING task from spec.
func New(spec CreateSpec) (*Task, error) {
	title := strings.TrimSpace(spec.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	description := strings.TrimSpace(spec.Description)
	if description == "" {
		return nil, &ValidationError{Field: "description", Reason: "must not be empty"}
	}

	priority := spec.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if priority.Rank() < 0 {
		return nil, &ValidationError{Field: "priority", Reason: "unknown priority " + string(priority)}
	}

	deps, err := normalizeDependencies("", spec.Dependencies)
	if err != nil {
		return nil, err
	}

	ts := now()
	return &Task{
		id:            uuid.NewString(),
		title:         title,
		description:   description,
		status:        StatusPending,
		priority:      priority,
		assignedAgent: strings.TrimSpace(spec.AssignedAgent),
		parentID:      strings.TrimSpace(spec.ParentID),
		dependencies:  deps,
		metadata:      copyMap(spec.Metadata),
		createdAt:     ts,
		updatedAt:     ts,
		dueDate:       spec.DueDate,
	}, nil
}

func normalizeDependencies(selfID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, &ValidationError{TaskID: selfID, Field: "dependencies", Reason: "dependency id must not be empty"}
		}
		if id == selfID {
			return nil, &ValidationError{TaskID: selfID, Field: "dependencies", Reason: "task cannot depend on itself"}
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *Task) ID() string            { return t.id }
func (t *Task) Title() string         { return t.title }
func (t *Task) Description() string   { return t.description }
func (t *Task) Status() Status        { return t.status }
func (t *Task) Priority() Priority    { return t.priority }
func (t *Task) AssignedAgent() string { return t.assignedAgent }
func (t *Task) ParentID() string      { return t.parentID }
func (t *Task) CreatedAt() time.Time  { return t.createdAt }
func (t *Task) UpdatedAt() time.Time  { return t.updatedAt }
func (t *Task) StartedAt() time.Time  { return t.startedAt }
func (t *Task) DueDate() time.Time    { return t.dueDate }

func (t *Task) CompletedAt() time.Time { return t.completedAt }

// Dependencies returns a copy of the dependency ids in insertion order.
func (t *Task) Dependencies() []string { return slices.Clone(t.dependencies) }

// Metadata returns a copy of the metadata bag.
func (t *Task) Metadata() map[string]any { return copyMap(t.metadata) }

// Result returns the task result and whether one is set.
func (t *Task) Result() (Result, bool) {
	if t.result == nil {
		return Result{}, false
	}
	return *t.result, true
}

// BlockReason returns the reason recorded by the last Block call.
func (t *Task) BlockReason() string {
	reason, _ := t.metadata[MetaBlockReason].(string)
	return reason
}

func (t *Task) IsTerminal() bool { return t.status.IsTerminal() }
func (t *Task) IsBlocked() bool  { return t.status == StatusBlocked }
func (t *Task) IsAssigned() bool { return t.assignedAgent != "" }

// HasDependency reports whether id is a direct dependency of t.
func (t *Task) HasDependency(id string) bool { return slices.Contains(t.dependencies, id) }

// IsOverdue reports whether the due date passed before at and the task is not COMPLETED.
func (t *Task) IsOverdue(at time.Time) bool {
	return !t.dueDate.IsZero() && t.dueDate.Before(at) && t.status != StatusCompleted
}

func (t *Task) require(op string, allowed ...Status) error {
	if slices.Contains(allowed, t.status) {
		return nil
	}
	return &StateError{TaskID: t.id, Op: op, Current: t.status, Required: allowed}
}

func (t *Task) touch(ts time.Time) { t.updatedAt = ts }

func (t *Task) setMeta(key string, value any) {
	if t.metadata == nil {
		t.metadata = make(map[string]any)
	}
	t.metadata[key] = value
}

// Start moves a PENDING task to IN_PROGRESS and assigns it to agentID.
// An empty agentID keeps the current assignment. Dependency readiness is
// checked by the caller, which can see the other tasks.
func (t *Task) Start(agentID string) error {
	if err := t.require("start", StatusPending); err != nil {
		return err
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" && t.assignedAgent == "" {
		return &ValidationError{TaskID: t.id, Field: "agent", Reason: "an agent is required to start a task"}
	}
	if agentID != "" {
		t.assignedAgent = agentID
	}
	ts := now()
	t.status = StatusInProgress
	t.startedAt = ts
	t.touch(ts)
	return nil
}

// Complete moves an IN_PROGRESS task to COMPLETED with result.
// A result with Success() == false is still a completion.
func (t *Task) Complete(result Result) error {
	if err := t.require("complete", StatusInProgress); err != nil {
		return err
	}
	if result.timestamp.IsZero() {
		return &ValidationError{TaskID: t.id, Field: "result", Reason: "result is required"}
	}
	ts := now()
	t.status = StatusCompleted
	t.result = &result
	t.completedAt = ts
	t.touch(ts)
	return nil
}

// Fail moves an IN_PROGRESS task to FAILED with an error result.
func (t *Task) Fail(msg string) error {
	if err := t.require("fail", StatusInProgress); err != nil {
		return err
	}
	r := ErrorResult(msg, nil)
	t.status = StatusFailed
	t.result = &r
	t.touch(r.timestamp)
	return nil
}

// Block pauses a PENDING or IN_PROGRESS task and records reason.
func (t *Task) Block(reason string) error {
	if err := t.require("block", StatusPending, StatusInProgress); err != nil {
		return err
	}
	ts := now()
	t.status = StatusBlocked
	t.setMeta(MetaBlockReason, strings.TrimSpace(reason))
	t.setMeta(MetaBlockedAt, ts.Format(time.RFC3339Nano))
	t.touch(ts)
	return nil
}

// Unblock returns a BLOCKED task to IN_PROGRESS if it had been started, PENDING otherwise.
func (t *Task) Unblock() error {
	if err := t.require("unblock", StatusBlocked); err != nil {
		return err
	}
	if t.startedAt.IsZero() {
		t.status = StatusPending
	} else {
		t.status = StatusInProgress
	}
	delete(t.metadata, MetaBlockReason)
	delete(t.metadata, MetaBlockedAt)
	t.touch(now())
	return nil
}

// Cancel abandons a task that has not reached a terminal status.
func (t *Task) Cancel(reason string) error {
	if err := t.require("cancel", StatusPending, StatusInProgress, StatusBlocked); err != nil {
		return err
	}
	ts := now()
	t.status = StatusCancelled
	t.setMeta(MetaCancelReason, strings.TrimSpace(reason))
	t.setMeta(MetaCancelledAt, ts.Format(time.RFC3339Nano))
	t.touch(ts)
	return nil
}

// AssignTo sets the assigned agent. Allowed while PENDING or IN_PROGRESS.
func (t *Task) AssignTo(agentID string) error {
	if err := t.require("assign", StatusPending, StatusInProgress); err != nil {
		return err
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return &ValidationError{TaskID: t.id, Field: "agent", Reason: "agent id must not be empty"}
	}
	t.assignedAgent = agentID
	t.touch(now())
	return nil
}

// Unassign clears the assigned agent. Allowed while PENDING or IN_PROGRESS.
func (t *Task) Unassign() error {
	if err := t.require("unassign", StatusPending, StatusInProgress); err != nil {
		return err
	}
	t.assignedAgent = ""
	t.touch(now())
	return nil
}

// AddDependency appends id to the dependency set. Adding an existing
// dependency is a no-op. Cycle detection needs the whole graph and lives
// in the scheduler package.
func (t *Task) AddDependency(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{TaskID: t.id, Field: "dependencies", Reason: "dependency id must not be empty"}
	}
	if id == t.id {
		return &ValidationError{TaskID: t.id, Field: "dependencies", Reason: "task cannot depend on itself"}
	}
	if t.HasDependency(id) {
		return nil
	}
	t.dependencies = append(t.dependencies, id)
	t.touch(now())
	return nil
}

// RemoveDependency drops id from the dependency set. Removing an absent id is a no-op.
func (t *Task) RemoveDependency(id string) {
	idx := slices.Index(t.dependencies, id)
	if idx < 0 {
		return
	}
	t.dependencies = slices.Delete(t.dependencies, idx, idx+1)
	t.touch(now())
}

// Apply validates every present field of spec, then applies them together.
// Metadata is merged into the existing bag.
func (t *Task) Apply(spec UpdateSpec) error {
	var title, description string
	if spec.Title != nil {
		title = strings.TrimSpace(*spec.Title)
		if title == "" {
			return &ValidationError{TaskID: t.id, Field: "title", Reason: "must not be empty"}
		}
	}
	if spec.Description != nil {
		description = strings.TrimSpace(*spec.Description)
		if description == "" {
			return &ValidationError{TaskID: t.id, Field: "description", Reason: "must not be empty"}
		}
	}
	if spec.Priority != nil && spec.Priority.Rank() < 0 {
		return &ValidationError{TaskID: t.id, Field: "priority", Reason: "unknown priority " + string(*spec.Priority)}
	}

	if spec.Title != nil {
		t.title = title
	}
	if spec.Description != nil {
		t.description = description
	}
	if spec.Priority != nil {
		t.priority = *spec.Priority
	}
	if spec.DueDate != nil {
		t.dueDate = *spec.DueDate
	}
	for k, v := range spec.Metadata {
		t.setMeta(k, v)
	}
	t.touch(now())
	return nil
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.dependencies = slices.Clone(t.dependencies)
	c.metadata = copyMap(t.metadata)
	if t.result != nil {
		r := *t.result
		r.metadata = copyMap(t.result.metadata)
		c.result = &r
	}
	return &c
}
