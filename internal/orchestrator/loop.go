// Package orchestrator drives agents through tasks: a bounded reasoning loop
// per (agent, task) trigger, and a dispatcher that runs loops concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/agents"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/lifecycle"
	"github.com/aristath/taskflow/internal/llm"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/task"
	"github.com/aristath/taskflow/internal/tools"
)

// OutcomeKind says how a run ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed" // Task COMPLETED by this run
	OutcomeFailed    OutcomeKind = "failed"    // LLM error; task FAILED
	OutcomeStopped   OutcomeKind = "stopped"   // Model stopped; stop policy applied
	OutcomeExhausted OutcomeKind = "exhausted" // Iteration or time budget spent
	OutcomeCancelled OutcomeKind = "cancelled" // Task left IN_PROGRESS under the run
	OutcomeSkipped   OutcomeKind = "skipped"   // Nothing to do for this trigger
	OutcomeBusy      OutcomeKind = "busy"      // Another run holds the lease
	OutcomeNotReady  OutcomeKind = "not_ready" // Task could not be started
)

// Outcome is the result of one Run.
type Outcome struct {
	Kind       OutcomeKind
	Iterations int
	Err        error
}

// Stop policies decide what happens to an IN_PROGRESS task when a run ends
// without completing it.
const (
	StopLeave = "leave"
	StopBlock = "block"
	StopFail  = "fail"
)

// Settings bound each run.
type Settings struct {
	MaxIterations int
	Deadline      time.Duration
	LLMTimeout    time.Duration
	StopPolicy    string
	ContextWindow int
	LeaseGrace    time.Duration
	Model         string
}

// SettingsFromConfig copies the orchestration section.
func SettingsFromConfig(c config.OrchestrationConfig) Settings {
	return Settings{
		MaxIterations: c.MaxIterations,
		Deadline:      c.Deadline,
		LLMTimeout:    c.LLMTimeout,
		StopPolicy:    c.StopPolicy,
		ContextWindow: c.ContextWindow,
		LeaseGrace:    c.LeaseGrace,
		Model:         c.Model,
	}
}

// Tasks is the part of the lifecycle service a run needs.
type Tasks interface {
	GetTaskByID(ctx context.Context, id string) (*task.Task, error)
	StartTask(ctx context.Context, id, agentID string) (*task.Task, error)
	CompleteTask(ctx context.Context, id string, result task.Result) (*task.Task, error)
	FailTask(ctx context.Context, id, errMsg string) (*task.Task, error)
	BlockTask(ctx context.Context, id, reason string) (*task.Task, error)
	GetTaskDependents(ctx context.Context, id string) ([]*task.Task, error)
	CheckDependenciesMet(ctx context.Context, id string) (bool, error)
	GetTaskStatistics(ctx context.Context) (lifecycle.Statistics, error)
}

// MemoryLog records what agents did. Write failures never abort a run.
type MemoryLog interface {
	Store(ctx context.Context, content string, metadata map[string]any, agentID string) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]persistence.MemoryEntry, error)
}

// Deps are the collaborators of a Loop. Sink and Publisher are optional.
type Deps struct {
	Tasks     Tasks
	Agents    agents.Lookup
	LLM       llm.Completer
	Tools     tools.Executor
	Memory    MemoryLog
	Leaser    scheduler.Leaser
	Sink      queue.Sink
	Publisher events.Publisher
	Logger    *logrus.Entry
}

// Loop runs agents on tasks. One Loop serves every trigger; the lease keeps
// runs for the same task from overlapping.
type Loop struct {
	deps     Deps
	settings atomic.Pointer[Settings]
	log      *logrus.Entry
}

// NewLoop creates a Loop. Zero settings fall back to the config defaults.
func NewLoop(deps Deps, s Settings) *Loop {
	l := &Loop{deps: deps, log: deps.Logger}
	if l.log == nil {
		l.log = logger.Discard()
	}
	l.SetSettings(s)
	return l
}

// SetSettings replaces the bounds for runs that start afterwards.
func (l *Loop) SetSettings(s Settings) {
	d := SettingsFromConfig(config.DefaultConfig().Orchestration)
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.Deadline <= 0 {
		s.Deadline = d.Deadline
	}
	if s.LLMTimeout <= 0 {
		s.LLMTimeout = d.LLMTimeout
	}
	if s.StopPolicy == "" {
		s.StopPolicy = d.StopPolicy
	}
	if s.ContextWindow <= 0 {
		s.ContextWindow = d.ContextWindow
	}
	if s.LeaseGrace < 0 {
		s.LeaseGrace = 0
	}
	l.settings.Store(&s)
}

// Settings returns the current bounds.
func (l *Loop) Settings() Settings {
	return *l.settings.Load()
}

// run is the state of one Run call.
type run struct {
	*Loop
	set     Settings
	agent   *agents.Agent
	taskID  string
	agentID string
	history []string
	log     *logrus.Entry
}

// Run drives agentID on taskID until the task completes, the model stops,
// the budget runs out or the task is changed from outside. It never returns
// an error or panics; everything is reported through the Outcome.
func (l *Loop) Run(ctx context.Context, agentID, taskID string) (out Outcome) {
	started := time.Now()
	r := &run{
		Loop:    l,
		set:     l.Settings(),
		taskID:  taskID,
		agentID: agentID,
		log:     l.log.WithFields(logrus.Fields{"task_id": taskID, "agent_id": agentID}),
	}

	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Kind: OutcomeFailed, Iterations: out.Iterations, Err: fmt.Errorf("orchestration panic: %v", p)}
			r.log.WithField("panic", p).Error("orchestration run panicked")
		}
		r.finish(ctx, out, time.Since(started))
	}()

	lease, err := l.deps.Leaser.TryAcquire(ctx, taskID, r.set.Deadline+r.set.LeaseGrace)
	if errors.Is(err, scheduler.ErrLeaseHeld) {
		r.log.Info("task already has an active run")
		return Outcome{Kind: OutcomeBusy, Err: err}
	}
	if err != nil {
		r.log.WithError(err).Error("failed to acquire task lease")
		return Outcome{Kind: OutcomeSkipped, Err: err}
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			r.log.WithError(err).Warn("failed to release task lease")
		}
	}()

	t, skip := r.prepare(ctx)
	if skip != nil {
		return *skip
	}

	r.publish(events.RunStartedEvent{ID: taskID, AgentID: agentID, Title: t.Title(), Timestamp: time.Now()})
	r.log.WithField("title", t.Title()).Info("orchestration started")
	r.replay(ctx)

	return r.iterate(ctx)
}

// prepare loads the agent and task and moves the task to IN_PROGRESS. A
// non-nil Outcome means the run ends here.
func (r *run) prepare(ctx context.Context) (*task.Task, *Outcome) {
	a, err := r.deps.Agents.FindAgentByID(ctx, r.agentID)
	if err != nil {
		r.log.WithError(err).Warn("agent not found, skipping run")
		return nil, &Outcome{Kind: OutcomeSkipped, Err: err}
	}
	r.agent = a

	t, err := r.deps.Tasks.GetTaskByID(ctx, r.taskID)
	if err != nil {
		r.log.WithError(err).Warn("task not found, skipping run")
		return nil, &Outcome{Kind: OutcomeSkipped, Err: err}
	}

	if t.IsTerminal() || t.IsBlocked() {
		r.log.WithField("status", t.Status()).Info("task is not runnable, skipping")
		return nil, &Outcome{Kind: OutcomeSkipped}
	}
	if owner := t.AssignedAgent(); owner != "" && owner != r.agentID {
		r.log.WithField("assigned_agent", owner).Info("task belongs to another agent, skipping")
		return nil, &Outcome{Kind: OutcomeSkipped}
	}

	if t.Status() == task.StatusPending {
		t, err = r.deps.Tasks.StartTask(ctx, r.taskID, r.agentID)
		if err != nil {
			r.log.WithError(err).Info("task cannot start yet")
			return nil, &Outcome{Kind: OutcomeNotReady, Err: err}
		}
	}
	return t, nil
}

// replay seeds the history from earlier runs on the same task.
func (r *run) replay(ctx context.Context) {
	entries, err := r.deps.Memory.ListByTask(ctx, r.taskID, r.set.ContextWindow)
	if err != nil {
		r.log.WithError(err).Warn("failed to load task memory")
		return
	}
	for _, e := range entries {
		r.history = append(r.history, e.Content)
	}
	if len(entries) > 0 {
		r.log.WithField("entries", len(entries)).Debug("replayed task memory")
	}
}

func (r *run) iterate(ctx context.Context) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, r.set.Deadline)
	defer cancel()

	iterations := 0
	for iterations < r.set.MaxIterations {
		if out, done := r.interrupted(ctx, runCtx, iterations); done {
			return out
		}

		t, err := r.deps.Tasks.GetTaskByID(ctx, r.taskID)
		if err != nil {
			r.log.WithError(err).Warn("task disappeared during run")
			return Outcome{Kind: OutcomeCancelled, Iterations: iterations, Err: err}
		}
		if t.Status() != task.StatusInProgress {
			r.log.WithField("status", t.Status()).Info("task changed outside the run, stopping")
			return Outcome{Kind: OutcomeCancelled, Iterations: iterations}
		}

		iterations++
		log := r.log.WithField("iteration", iterations)

		resp, err := r.complete(runCtx, t)
		if err != nil {
			if out, done := r.interrupted(ctx, runCtx, iterations); done {
				return out
			}
			log.WithError(err).WithField("code", llm.CodeOf(err)).Error("LLM call failed")
			r.settle(ctx, StopFail, err.Error())
			r.publishIteration(iterations, "error", "", false, err.Error())
			return Outcome{Kind: OutcomeFailed, Iterations: iterations, Err: err}
		}

		action := ParseAction(resp.Content, r.knownTool)
		log.WithField("action", action.Kind).Debug("model replied")

		switch action.Kind {
		case ActionContinue:
			r.runTool(runCtx, ctx, iterations, action)

		case ActionComplete:
			return r.completeTask(ctx, iterations, resp.Content)

		default:
			log.WithField("reason", action.Reason).Info("agent stopped")
			r.publishIteration(iterations, string(ActionStop), "", false, action.Reason)
			r.settle(ctx, r.set.StopPolicy, "agent stopped: "+action.Reason)
			return Outcome{Kind: OutcomeStopped, Iterations: iterations}
		}
	}

	r.log.WithField("iterations", iterations).Warn("iteration budget exhausted")
	r.settle(ctx, r.set.StopPolicy, fmt.Sprintf("iteration budget of %d exhausted", r.set.MaxIterations))
	return Outcome{Kind: OutcomeExhausted, Iterations: iterations}
}

// interrupted reports whether the run must end because ctx was cancelled
// (shutdown, task left untouched) or the run deadline passed (stop policy).
func (r *run) interrupted(ctx, runCtx context.Context, iterations int) (Outcome, bool) {
	if err := ctx.Err(); err != nil {
		r.log.Info("run interrupted by shutdown")
		return Outcome{Kind: OutcomeExhausted, Iterations: iterations, Err: err}, true
	}
	if err := runCtx.Err(); err != nil {
		r.log.WithField("deadline", r.set.Deadline).Warn("run deadline exceeded")
		r.settle(ctx, r.set.StopPolicy, fmt.Sprintf("deadline of %s exceeded", r.set.Deadline))
		return Outcome{Kind: OutcomeExhausted, Iterations: iterations, Err: err}, true
	}
	return Outcome{}, false
}

func (r *run) complete(runCtx context.Context, t *task.Task) (llm.Response, error) {
	callCtx, cancel := context.WithTimeout(runCtx, r.set.LLMTimeout)
	defer cancel()

	cfg := llm.DefaultConfig()
	cfg.Timeout = r.set.LLMTimeout
	model := r.agent.Model
	if model == "" {
		model = r.set.Model
	}
	return r.deps.LLM.Complete(callCtx, llm.Request{
		Messages: buildPrompt(r.agent, t, visibleTools(r.deps.Tools, r.agent), r.history),
		Provider: r.agent.Provider,
		Model:    model,
		Config:   cfg,
	})
}

func (r *run) knownTool(id string) bool {
	return r.deps.Tools.Has(id) && r.agent.AllowsTool(id)
}

// runTool executes one tool call and records it. Failures are recorded, not
// returned.
func (r *run) runTool(runCtx, ctx context.Context, iteration int, action Action) {
	res, err := r.deps.Tools.Execute(runCtx, action.Tool, action.Args, tools.Context{
		AgentID: r.agentID,
		TaskID:  r.taskID,
	})
	if err != nil {
		res = tools.Failed(err.Error())
	}

	summary := describeResult(res)
	entry := fmt.Sprintf("Tool used: %s - result: %s", action.Tool, summary)
	meta := map[string]any{
		persistence.MetaTaskID: r.taskID,
		"agentId":              r.agentID,
		"tool":                 action.Tool,
		"arguments":            action.Args,
		"success":              res.Success,
		"iteration":            iteration,
	}
	if res.Data != nil {
		meta["result"] = res.Data
	}
	if !res.Success {
		meta["error"] = res.Error
	}
	if err := r.deps.Memory.Store(context.WithoutCancel(ctx), entry, meta, r.agentID); err != nil {
		r.log.WithError(err).Warn("failed to store memory entry")
	}

	r.history = append(r.history, entry)
	if over := len(r.history) - r.set.ContextWindow; over > 0 {
		r.history = r.history[over:]
	}

	r.log.WithFields(logrus.Fields{"iteration": iteration, "tool": action.Tool, "success": res.Success}).Info("tool executed")
	r.publishIteration(iteration, string(ActionContinue), action.Tool, res.Success, summary)
}

func describeResult(res tools.Result) string {
	if !res.Success {
		return "error: " + res.Error
	}
	switch v := res.Data.(type) {
	case nil:
		return "ok"
	case string:
		return v
	}
	b, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("%v", res.Data)
	}
	return string(b)
}

func (r *run) completeTask(ctx context.Context, iterations int, output string) Outcome {
	result := task.SuccessResult(strings.TrimSpace(output), map[string]any{
		"agentId":    r.agentID,
		"iterations": iterations,
	})
	if _, err := r.deps.Tasks.CompleteTask(ctx, r.taskID, result); err != nil {
		r.log.WithError(err).Warn("failed to complete task")
		r.publishIteration(iterations, string(ActionComplete), "", false, err.Error())
		if errors.Is(err, task.ErrState) {
			return Outcome{Kind: OutcomeCancelled, Iterations: iterations, Err: err}
		}
		return Outcome{Kind: OutcomeFailed, Iterations: iterations, Err: err}
	}

	r.log.WithField("iterations", iterations).Info("task completed")
	r.publishIteration(iterations, string(ActionComplete), "", true, firstLine(output))
	r.promoteDependents(ctx)
	return Outcome{Kind: OutcomeCompleted, Iterations: iterations}
}

// settle applies policy to the task after a run that did not complete it.
func (r *run) settle(ctx context.Context, policy, why string) {
	var err error
	switch policy {
	case StopBlock:
		_, err = r.deps.Tasks.BlockTask(ctx, r.taskID, "orchestration stopped: "+why)
	case StopFail:
		_, err = r.deps.Tasks.FailTask(ctx, r.taskID, why)
	default:
		return
	}
	if err != nil {
		r.log.WithError(err).WithField("policy", policy).Warn("failed to settle task")
	}
}

func (r *run) finish(ctx context.Context, out Outcome, elapsed time.Duration) {
	entry := r.log.WithFields(logrus.Fields{
		"outcome":    out.Kind,
		"iterations": out.Iterations,
		"duration":   elapsed,
	})
	if out.Err != nil {
		entry = entry.WithError(out.Err)
	}
	entry.Info("orchestration finished")

	if r.deps.Publisher == nil {
		return
	}
	ev := events.RunFinishedEvent{
		ID:         r.taskID,
		AgentID:    r.agentID,
		Outcome:    string(out.Kind),
		Iterations: out.Iterations,
		Duration:   elapsed,
		Timestamp:  time.Now(),
	}
	if out.Err != nil {
		ev.Err = out.Err.Error()
	}
	r.deps.Publisher.Publish(events.TopicOrchestration, ev)
	r.publishStatistics(context.WithoutCancel(ctx))
}

func (r *run) publishStatistics(ctx context.Context) {
	stats, err := r.deps.Tasks.GetTaskStatistics(ctx)
	if err != nil {
		r.log.WithError(err).Debug("failed to collect statistics")
		return
	}
	byStatus := make(map[string]int, len(stats.ByStatus))
	for st, n := range stats.ByStatus {
		byStatus[string(st)] = n
	}
	r.deps.Publisher.Publish(events.TopicStats, events.StatisticsEvent{
		Total:     stats.Total,
		ByStatus:  byStatus,
		Timestamp: time.Now(),
	})
}

func (r *run) publish(ev events.Event) {
	if r.deps.Publisher != nil {
		r.deps.Publisher.Publish(events.TopicOrchestration, ev)
	}
}

func (r *run) publishIteration(iteration int, action, tool string, success bool, summary string) {
	r.publish(events.RunIterationEvent{
		ID:        r.taskID,
		AgentID:   r.agentID,
		Iteration: iteration,
		Action:    action,
		Tool:      tool,
		Success:   success,
		Summary:   firstLine(summary),
		Timestamp: time.Now(),
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const limit = 200
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
