package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/task"
)

// promoteDependents triggers every assigned PENDING dependent whose
// dependencies are all COMPLETED now that this task is.
func (r *run) promoteDependents(ctx context.Context) {
	if r.deps.Sink == nil {
		return
	}
	dependents, err := r.deps.Tasks.GetTaskDependents(ctx, r.taskID)
	if err != nil {
		r.log.WithError(err).Warn("failed to load dependents")
		return
	}

	for _, dep := range dependents {
		if dep.Status() != task.StatusPending || !dep.IsAssigned() {
			continue
		}
		met, err := r.deps.Tasks.CheckDependenciesMet(ctx, dep.ID())
		if err != nil {
			r.log.WithError(err).WithField("dependent_id", dep.ID()).Warn("failed to check dependencies")
			continue
		}
		if !met {
			continue
		}

		trigger := queue.Trigger{AgentID: dep.AssignedAgent(), TaskID: dep.ID()}
		fields := logrus.Fields{"dependent_id": dep.ID(), "dependent_agent": dep.AssignedAgent()}
		if err := r.deps.Sink.Publish(ctx, trigger); err != nil {
			r.log.WithError(err).WithFields(fields).Warn("failed to trigger dependent")
			continue
		}
		r.log.WithFields(fields).Info("dependent is ready, triggered")
	}
}
