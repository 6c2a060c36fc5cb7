package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask          = "task"
	TopicOrchestration = "orchestration"
	TopicStats         = "stats"
)

// Event type constants
const (
	EventTypeTaskTransition = "task.transition"
	EventTypeTaskAssigned   = "task.assigned"
	EventTypeRunStarted     = "run.started"
	EventTypeRunIteration   = "run.iteration"
	EventTypeRunFinished    = "run.finished"
	EventTypeStatistics     = "stats.snapshot"
)

// TaskTransitionEvent is published after every persisted task mutation.
// From is empty for creations; To is empty for deletions.
type TaskTransitionEvent struct {
	ID        string
	Op        string
	From      string
	To        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskTransitionEvent) EventType() string { return EventTypeTaskTransition }
func (e TaskTransitionEvent) TaskID() string    { return e.ID }

// TaskAssignedEvent is published when a task gets an agent. It doubles as
// the in-process trigger for the orchestration loop.
type TaskAssignedEvent struct {
	ID        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) TaskID() string    { return e.ID }

// RunStartedEvent is published when an orchestration run takes its lease.
type RunStartedEvent struct {
	ID        string
	AgentID   string
	Title     string
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) TaskID() string    { return e.ID }

// RunIterationEvent is published once per reasoning step.
type RunIterationEvent struct {
	ID        string
	AgentID   string
	Iteration int
	Action    string
	Tool      string // Set for tool steps
	Success   bool
	Summary   string // First line of the model output or tool result
	Timestamp time.Time
}

func (e RunIterationEvent) EventType() string { return EventTypeRunIteration }
func (e RunIterationEvent) TaskID() string    { return e.ID }

// RunFinishedEvent is published when a run exits, whatever the reason.
type RunFinishedEvent struct {
	ID         string
	AgentID    string
	Outcome    string
	Iterations int
	Err        string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return e.ID }

// StatisticsEvent carries task counts by status.
type StatisticsEvent struct {
	Total     int
	ByStatus  map[string]int
	Timestamp time.Time
}

func (e StatisticsEvent) EventType() string { return EventTypeStatistics }
func (e StatisticsEvent) TaskID() string    { return "" }
