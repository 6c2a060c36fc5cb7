package task

import "strings"

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"     // Created, waiting to be started
	StatusInProgress Status = "IN_PROGRESS" // Started by an agent
	StatusBlocked    Status = "BLOCKED"     // Paused with a reason, see metadata["blockReason"]
	StatusCompleted  Status = "COMPLETED"   // Finished, carries a result
	StatusFailed     Status = "FAILED"      // Finished with an error result
	StatusCancelled  Status = "CANCELLED"   // Abandoned, see metadata["cancelReason"]
)

// Statuses lists every status in state machine order.
var Statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusBlocked,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus converts a case-insensitive status name into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.valid() {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + raw}
	}
	return s, nil
}

// Priority ranks how urgent a task is.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Priorities lists every priority from lowest to highest.
var Priorities = []Priority{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityCritical,
}

// Rank orders priorities; higher is more urgent. Unknown priorities rank below LOW.
func (p Priority) Rank() int {
	for i, known := range Priorities {
		if p == known {
			return i
		}
	}
	return -1
}

// ParsePriority converts a case-insensitive priority name into a Priority.
// An empty string yields MEDIUM.
func ParsePriority(raw string) (Priority, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PriorityMedium, nil
	}
	p := Priority(strings.ToUpper(trimmed))
	if p.Rank() < 0 {
		return "", &ValidationError{Field: "priority", Reason: "unknown priority " + raw}
	}
	return p, nil
}
