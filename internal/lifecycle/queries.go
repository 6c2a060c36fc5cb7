package lifecycle

import (
	"context"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/task"
)

// Statistics counts tasks. ByStatus and ByPriority carry every known key,
// zero included; ByAgent only lists agents with at least one task.
type Statistics struct {
	Total      int
	ByStatus   map[task.Status]int
	ByPriority map[task.Priority]int
	ByAgent    map[string]int
}

// GetTasks returns the tasks matching filter.
func (s *Service) GetTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	return s.repo.FindAll(ctx, filter)
}

func (s *Service) GetTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return s.repo.FindAll(ctx, task.Filter{Status: status})
}

func (s *Service) GetTasksByPriority(ctx context.Context, priority task.Priority) ([]*task.Task, error) {
	return s.repo.FindAll(ctx, task.Filter{Priority: priority})
}

func (s *Service) GetTasksByAgent(ctx context.Context, agentID string) ([]*task.Task, error) {
	return s.repo.FindAll(ctx, task.Filter{AgentID: agentID})
}

// GetSubtasks returns the tasks whose parent is parentID.
func (s *Service) GetSubtasks(ctx context.Context, parentID string) ([]*task.Task, error) {
	return s.repo.FindAll(ctx, task.Filter{ParentID: parentID})
}

func (s *Service) GetBlockedTasks(ctx context.Context) ([]*task.Task, error) {
	return s.repo.FindAll(ctx, task.Filter{Status: task.StatusBlocked})
}

// GetOverdueTasks returns tasks past their due date that are not COMPLETED.
func (s *Service) GetOverdueTasks(ctx context.Context) ([]*task.Task, error) {
	return s.repo.FindOverdue(ctx, s.now())
}

// GetReadyTasks returns PENDING tasks whose dependencies are all COMPLETED.
func (s *Service) GetReadyTasks(ctx context.Context) ([]*task.Task, error) {
	pending, err := s.repo.FindAll(ctx, task.Filter{Status: task.StatusPending})
	if err != nil {
		return nil, err
	}
	var ready []*task.Task
	for _, t := range pending {
		met, _, err := s.graph.DependenciesMet(ctx, t)
		if err != nil {
			return nil, err
		}
		if met {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// ExecutionPlan returns the tasks matching filter in dependency order,
// most urgent first within each level.
func (s *Service) ExecutionPlan(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	tasks, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	return scheduler.Plan(tasks)
}

// GetTaskStatistics counts every task by status, priority and assigned agent.
func (s *Service) GetTaskStatistics(ctx context.Context) (Statistics, error) {
	tasks, err := s.repo.FindAll(ctx, task.Filter{})
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		Total:      len(tasks),
		ByStatus:   make(map[task.Status]int, len(task.Statuses)),
		ByPriority: make(map[task.Priority]int, len(task.Priorities)),
		ByAgent:    make(map[string]int),
	}
	for _, st := range task.Statuses {
		stats.ByStatus[st] = 0
	}
	for _, p := range task.Priorities {
		stats.ByPriority[p] = 0
	}
	for _, t := range tasks {
		stats.ByStatus[t.Status()]++
		stats.ByPriority[t.Priority()]++
		if agent := t.AssignedAgent(); agent != "" {
			stats.ByAgent[agent]++
		}
	}
	return stats, nil
}
