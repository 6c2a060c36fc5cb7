package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/agents"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/lifecycle"
	"github.com/aristath/taskflow/internal/llm"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/task"
	"github.com/aristath/taskflow/internal/tools"
)

// scriptedLLM replies with replies in order and repeats the last one.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
	onCall   func(n int)
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	onCall := s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(n)
	}
	if s.err != nil {
		return llm.Response{}, s.err
	}
	reply := s.replies[len(s.replies)-1]
	if n <= len(s.replies) {
		reply = s.replies[n-1]
	}
	return llm.Response{Content: reply}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedLLM) request(i int) llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

type fixture struct {
	store  *persistence.InMemoryStore
	svc    *lifecycle.Service
	dir    *agents.Directory
	tools  *tools.Registry
	leases *scheduler.LeaseTable
	sink   *queue.MemoryQueue
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := persistence.NewInMemoryStore()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	reg := tools.NewRegistry()
	reg.MustRegister(tools.Echo())

	return &fixture{
		store: store,
		svc:   lifecycle.NewService(store, lifecycle.WithPublisher(bus)),
		dir: agents.NewDirectory(
			agents.Agent{ID: "writer", Name: "Writer", Role: "writing", Provider: "claude", Goals: []string{"Write well"}},
			agents.Agent{ID: "reader", Name: "Reader", Provider: "goose", Model: "small"},
		),
		tools:  reg,
		leases: scheduler.NewLeaseTable(),
		sink:   queue.NewMemoryQueue(16),
		bus:    bus,
	}
}

func (f *fixture) loop(c llm.Completer, s Settings) *Loop {
	return NewLoop(Deps{
		Tasks:     f.svc,
		Agents:    f.dir,
		LLM:       c,
		Tools:     f.tools,
		Memory:    f.store,
		Leaser:    f.leases,
		Sink:      f.sink,
		Publisher: f.bus,
	}, s)
}

func (f *fixture) create(t *testing.T, title, agentID string, deps ...string) *task.Task {
	t.Helper()
	tk, err := f.svc.CreateTask(context.Background(), task.CreateSpec{
		Title:         title,
		Description:   title + " in detail",
		Priority:      task.PriorityHigh,
		AssignedAgent: agentID,
		Dependencies:  deps,
	})
	require.NoError(t, err)
	return tk
}

func (f *fixture) get(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := f.svc.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	return tk
}

var quick = Settings{MaxIterations: 5, Deadline: 5 * time.Second, LLMTimeout: time.Second}

func TestRunCompletesTask(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Write report", "writer")
	model := &scriptedLLM{replies: []string{
		`Let me check. CALL echo({"text": "draft ready"})`,
		"DONE\nThe report is finished.",
	}}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	require.Equal(t, OutcomeCompleted, out.Kind, out.Err)
	assert.Equal(t, 2, out.Iterations)

	got := f.get(t, tk.ID())
	assert.Equal(t, task.StatusCompleted, got.Status())
	assert.False(t, got.StartedAt().IsZero())
	assert.False(t, got.CompletedAt().IsZero())
	res, ok := got.Result()
	require.True(t, ok)
	assert.True(t, res.Success())
	assert.Equal(t, "DONE\nThe report is finished.", res.Content())

	entries, err := f.store.ListByTask(context.Background(), tk.ID(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "writer", entries[0].AgentID)
	assert.Equal(t, "Tool used: echo - result: draft ready", entries[0].Content)
	assert.Equal(t, "echo", entries[0].Metadata["tool"])
	assert.Equal(t, true, entries[0].Metadata["success"])
	assert.Equal(t, map[string]any{"text": "draft ready"}, entries[0].Metadata["arguments"])
	assert.Equal(t, "draft ready", entries[0].Metadata["result"])

	// The second prompt carries the tool result
	second := model.request(1)
	assert.Contains(t, second.Messages[1].Content, "Tool used: echo - result: draft ready")
	assert.Equal(t, "claude", second.Provider)
	assert.False(t, f.leases.Held(tk.ID()))
}

func TestRunPromptDescribesAgentAndTask(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Summarise notes", "writer")
	model := &scriptedLLM{replies: []string{"DONE"}}

	f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	req := model.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	user := req.Messages[1].Content
	for _, want := range []string{
		"You are Agent Writer (writing).",
		"- Write well",
		"Task: Summarise notes",
		"Priority: HIGH",
		"Context: Summarise notes in detail",
		"- echo(text string) - Returns the given text unchanged",
		"CALL <tool>",
	} {
		assert.Contains(t, user, want)
	}
	assert.Equal(t, time.Second, req.Config.Timeout)
}

func TestRunUnrecognizedOutputLeavesTaskInProgress(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Ponder", "writer")
	model := &scriptedLLM{replies: []string{"I am not sure what to do."}}

	done := make(chan Outcome, 1)
	go func() { done <- f.loop(model, quick).Run(context.Background(), "writer", tk.ID()) }()

	select {
	case out := <-done:
		assert.Equal(t, OutcomeStopped, out.Kind)
		assert.Equal(t, 1, out.Iterations)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}

	got := f.get(t, tk.ID())
	assert.Equal(t, task.StatusInProgress, got.Status())
	assert.False(t, got.IsTerminal())
}

func TestRunStopsAtIterationBound(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Loop forever", "writer")
	model := &scriptedLLM{replies: []string{`CALL echo({"text": "again"})`}}

	s := quick
	s.MaxIterations = 3
	out := f.loop(model, s).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeExhausted, out.Kind)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, 3, model.calls())
	assert.Equal(t, task.StatusInProgress, f.get(t, tk.ID()).Status())

	entries, err := f.store.ListByTask(context.Background(), tk.ID(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRunStopsAtDeadline(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Slow thinker", "writer")
	slow := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	})

	s := Settings{MaxIterations: 100, Deadline: 100 * time.Millisecond, LLMTimeout: 5 * time.Second}
	start := time.Now()
	out := f.loop(slow, s).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeExhausted, out.Kind)
	assert.Less(t, time.Since(start), 3*time.Second)
	// Running out of time is not an LLM failure
	assert.Equal(t, task.StatusInProgress, f.get(t, tk.ID()).Status())
}

func TestRunLLMErrorFailsTask(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Rate limited", "writer")
	providerErr := llm.NewRateLimitError("claude", "sonnet", "retry in 30s")
	model := &scriptedLLM{err: providerErr}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, providerErr)
	assert.Equal(t, 1, model.calls())

	got := f.get(t, tk.ID())
	assert.Equal(t, task.StatusFailed, got.Status())
	res, ok := got.Result()
	require.True(t, ok)
	assert.False(t, res.Success())
	assert.Equal(t, providerErr.Error(), res.ErrorMessage())
}

func TestRunCallTimeoutDuringRetryKeepsProviderError(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Still rate limited", "writer")
	providerErr := llm.NewRateLimitError("claude", "sonnet", "retry in 30s")
	retry := llm.RetryConfig{
		Enabled:         true,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		MaxElapsedTime:  10 * time.Second,
		Multiplier:      1,
	}
	model := llm.NewResilient(&scriptedLLM{err: providerErr}, "claude", llm.NewBreakerRegistry(nil), retry)

	s := quick
	s.LLMTimeout = 250 * time.Millisecond
	out := f.loop(model, s).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, llm.CodeRateLimit, llm.CodeOf(out.Err))

	res, ok := f.get(t, tk.ID()).Result()
	require.True(t, ok)
	assert.Equal(t, providerErr.Error(), res.ErrorMessage())
}

func TestRunMissingAgentOrTaskIsNoOp(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Orphan", "")
	model := &scriptedLLM{replies: []string{"DONE"}}
	l := f.loop(model, quick)

	out := l.Run(context.Background(), "ghost", tk.ID())
	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.ErrorIs(t, out.Err, agents.ErrAgentNotFound)

	out = l.Run(context.Background(), "writer", "no-such-task")
	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.ErrorIs(t, out.Err, task.ErrNotFound)

	assert.Zero(t, model.calls())
	assert.Equal(t, task.StatusPending, f.get(t, tk.ID()).Status())
}

func TestRedeliveryAfterCompletionIsNoOp(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Once only", "writer")
	model := &scriptedLLM{replies: []string{"DONE"}}
	l := f.loop(model, quick)

	require.Equal(t, OutcomeCompleted, l.Run(context.Background(), "writer", tk.ID()).Kind)
	out := l.Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.Equal(t, 1, model.calls())
}

func TestRunSkipsTaskOwnedByAnotherAgent(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Reader's task", "reader")
	model := &scriptedLLM{replies: []string{"DONE"}}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.Zero(t, model.calls())
	assert.Equal(t, task.StatusPending, f.get(t, tk.ID()).Status())
}

func TestRunNotReadyWhileDependenciesOpen(t *testing.T) {
	f := newFixture(t)
	dep := f.create(t, "Research", "reader")
	tk := f.create(t, "Write", "writer", dep.ID())
	model := &scriptedLLM{replies: []string{"DONE"}}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeNotReady, out.Kind)
	var opErr *task.OperationError
	require.ErrorAs(t, out.Err, &opErr)
	assert.Equal(t, lifecycle.ReasonDependenciesOpen, opErr.Reason)
	assert.Zero(t, model.calls())
	assert.Equal(t, task.StatusPending, f.get(t, tk.ID()).Status())
	assert.False(t, f.leases.Held(tk.ID()))
}

func TestRunBusyWhileLeaseHeld(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Contended", "writer")
	lease, err := f.leases.TryAcquire(context.Background(), tk.ID(), time.Minute)
	require.NoError(t, err)
	model := &scriptedLLM{replies: []string{"DONE"}}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())
	assert.Equal(t, OutcomeBusy, out.Kind)
	assert.ErrorIs(t, out.Err, scheduler.ErrLeaseHeld)
	assert.Zero(t, model.calls())

	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, OutcomeCompleted, f.loop(model, quick).Run(context.Background(), "writer", tk.ID()).Kind)
}

func TestConcurrentTriggersRunOneLoop(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Popular", "writer")

	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 8)
	model := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{Content: "DONE"}, nil
	})
	l := f.loop(model, quick)

	const triggers = 4
	outcomes := make(chan Outcome, triggers)
	var wg sync.WaitGroup
	for range triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- l.Run(context.Background(), "writer", tk.ID())
		}()
	}

	<-entered
	// Give the other triggers time to hit the lease
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	counts := map[OutcomeKind]int{}
	for out := range outcomes {
		counts[out.Kind]++
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 1, counts[OutcomeCompleted])
	// Late triggers either lose the lease or find the task already done
	assert.Equal(t, triggers-1, counts[OutcomeBusy]+counts[OutcomeSkipped])
	assert.Equal(t, task.StatusCompleted, f.get(t, tk.ID()).Status())
}

func TestRunObservesExternalCancellation(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Abandoned", "writer")
	model := &scriptedLLM{replies: []string{`CALL echo({"text": "working"})`}}
	model.onCall = func(n int) {
		if n == 1 {
			_, err := f.svc.CancelTask(context.Background(), tk.ID(), "no longer needed")
			require.NoError(t, err)
		}
	}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, task.StatusCancelled, f.get(t, tk.ID()).Status())
}

func TestRunObservesExternalBlock(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Paused", "writer")
	model := &scriptedLLM{replies: []string{`CALL echo({"text": "working"})`}}
	model.onCall = func(n int) {
		if n == 1 {
			_, err := f.svc.BlockTask(context.Background(), tk.ID(), "waiting on legal")
			require.NoError(t, err)
		}
	}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, task.StatusBlocked, f.get(t, tk.ID()).Status())
}

func TestStopPolicies(t *testing.T) {
	tests := []struct {
		policy     string
		wantStatus task.Status
		check      func(t *testing.T, tk *task.Task)
	}{
		{policy: StopLeave, wantStatus: task.StatusInProgress},
		{policy: StopBlock, wantStatus: task.StatusBlocked, check: func(t *testing.T, tk *task.Task) {
			assert.Equal(t, "orchestration stopped: agent stopped: unrecognized output", tk.BlockReason())
		}},
		{policy: StopFail, wantStatus: task.StatusFailed, check: func(t *testing.T, tk *task.Task) {
			res, ok := tk.Result()
			require.True(t, ok)
			assert.Equal(t, "agent stopped: unrecognized output", res.ErrorMessage())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			f := newFixture(t)
			tk := f.create(t, "Stuck", "writer")
			s := quick
			s.StopPolicy = tt.policy

			out := f.loop(&scriptedLLM{replies: []string{"hmm"}}, s).Run(context.Background(), "writer", tk.ID())

			assert.Equal(t, OutcomeStopped, out.Kind)
			got := f.get(t, tk.ID())
			assert.Equal(t, tt.wantStatus, got.Status())
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestToolFailureIsRecordedAndNotFatal(t *testing.T) {
	f := newFixture(t)
	f.tools.MustRegister(tools.Func{
		Def: tools.Spec{ID: "fetch"},
		Fn: func(context.Context, map[string]any, tools.Context) (tools.Result, error) {
			return tools.Result{}, errors.New("connection refused")
		},
	})
	tk := f.create(t, "Fetch data", "writer")
	model := &scriptedLLM{replies: []string{"CALL fetch({})", "DONE"}}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, 2, out.Iterations)

	entries, err := f.store.ListByTask(context.Background(), tk.ID(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, false, entries[0].Metadata["success"])
	assert.Equal(t, "connection refused", entries[0].Metadata["error"])
	assert.NotContains(t, entries[0].Metadata, "result")
	assert.Contains(t, entries[0].Content, "error: connection refused")
}

func TestInvalidToolArgumentsCountAsFailedStep(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Bad args", "writer")
	model := &scriptedLLM{replies: []string{`CALL echo({"text": 42})`, "DONE"}}

	out := f.loop(model, quick).Run(context.Background(), "writer", tk.ID())

	assert.Equal(t, OutcomeCompleted, out.Kind)
	entries, err := f.store.ListByTask(context.Background(), tk.ID(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "must be of type 'string'")
}

func TestAgentToolAllowList(t *testing.T) {
	f := newFixture(t)
	f.dir.Put(agents.Agent{ID: "locked", Name: "Locked", Provider: "claude", Tools: []string{"search"}})
	tk := f.create(t, "Restricted", "locked")
	model := &scriptedLLM{replies: []string{`CALL echo({"text": "hi"})`}}

	out := f.loop(model, quick).Run(context.Background(), "locked", tk.ID())

	// echo exists but the agent may not call it
	assert.Equal(t, OutcomeStopped, out.Kind)
	assert.NotContains(t, model.request(0).Messages[1].Content, "echo(")
}

func TestRunReplaysMemory(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Resume", "writer")
	ctx := context.Background()
	require.NoError(t, f.store.Store(ctx, "Tool used: echo - result: earlier finding",
		map[string]any{persistence.MetaTaskID: tk.ID()}, "writer"))
	require.NoError(t, f.store.Store(ctx, "unrelated",
		map[string]any{persistence.MetaTaskID: "other"}, "writer"))
	model := &scriptedLLM{replies: []string{"DONE"}}

	f.loop(model, quick).Run(ctx, "writer", tk.ID())

	prompt := model.request(0).Messages[1].Content
	assert.Contains(t, prompt, "1. Tool used: echo - result: earlier finding")
	assert.NotContains(t, prompt, "unrelated")
}

func TestHistoryKeepsContextWindow(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Chatty", "writer")
	replies := []string{
		`CALL echo({"text": "one"})`,
		`CALL echo({"text": "two"})`,
		`CALL echo({"text": "three"})`,
		"DONE",
	}
	model := &scriptedLLM{replies: replies}
	s := quick
	s.ContextWindow = 2

	f.loop(model, s).Run(context.Background(), "writer", tk.ID())

	last := model.request(3).Messages[1].Content
	assert.NotContains(t, last, "result: one")
	assert.Contains(t, last, "1. Tool used: echo - result: two")
	assert.Contains(t, last, "2. Tool used: echo - result: three")
}

func TestModelSelection(t *testing.T) {
	f := newFixture(t)
	s := quick
	s.Model = "default-model"

	w := f.create(t, "Writer task", "writer")
	r := f.create(t, "Reader task", "reader")
	model := &scriptedLLM{replies: []string{"DONE"}}
	l := f.loop(model, s)

	l.Run(context.Background(), "writer", w.ID())
	l.Run(context.Background(), "reader", r.ID())

	assert.Equal(t, "default-model", model.request(0).Model)
	assert.Equal(t, "small", model.request(1).Model)
	assert.Equal(t, "goose", model.request(1).Provider)
}

func TestCompletionTriggersReadyDependents(t *testing.T) {
	f := newFixture(t)
	research := f.create(t, "Research", "writer")
	draft := f.create(t, "Draft", "writer", research.ID())
	f.create(t, "Unassigned", "", research.ID())
	other := f.create(t, "Other dep", "reader")
	blockedByOther := f.create(t, "Needs both", "reader", research.ID(), other.ID())

	out := f.loop(&scriptedLLM{replies: []string{"DONE"}}, quick).Run(context.Background(), "writer", research.ID())
	require.Equal(t, OutcomeCompleted, out.Kind)

	require.Equal(t, 1, f.sink.Len())
	d, err := f.sink.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Trigger{AgentID: "writer", TaskID: draft.ID()}, d.Trigger)
	assert.NotEqual(t, blockedByOther.ID(), d.Trigger.TaskID)
}

func TestRunPublishesEvents(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(events.TopicOrchestration, 32)
	stats := f.bus.Subscribe(events.TopicStats, 4)
	tk := f.create(t, "Observed", "writer")

	f.loop(&scriptedLLM{replies: []string{`CALL echo({"text": "x"})`, "DONE"}}, quick).
		Run(context.Background(), "writer", tk.ID())

	var kinds []string
	for len(sub) > 0 {
		kinds = append(kinds, (<-sub).EventType())
	}
	assert.Equal(t, []string{
		events.EventTypeRunStarted,
		events.EventTypeRunIteration,
		events.EventTypeRunIteration,
		events.EventTypeRunFinished,
	}, kinds)

	require.Len(t, stats, 1)
	snapshot := (<-stats).(events.StatisticsEvent)
	assert.Equal(t, 1, snapshot.Total)
	assert.Equal(t, 1, snapshot.ByStatus[string(task.StatusCompleted)])
}

func TestRunFinishedCarriesOutcome(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(events.TopicOrchestration, 32)

	f.loop(&scriptedLLM{replies: []string{"DONE"}}, quick).Run(context.Background(), "ghost", "missing")

	require.Len(t, sub, 1)
	finished := (<-sub).(events.RunFinishedEvent)
	assert.Equal(t, string(OutcomeSkipped), finished.Outcome)
	assert.True(t, strings.Contains(finished.Err, "agent not found"))
}

func TestRunShutdownLeavesTaskUntouched(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Interrupted", "writer")
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedLLM{replies: []string{`CALL echo({"text": "x"})`}}
	model.onCall = func(int) { cancel() }

	s := quick
	s.StopPolicy = StopFail
	out := f.loop(model, s).Run(ctx, "writer", tk.ID())

	assert.Equal(t, OutcomeExhausted, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, task.StatusInProgress, f.get(t, tk.ID()).Status())
	assert.False(t, f.leases.Held(tk.ID()))
}

func TestSetSettingsAppliesDefaults(t *testing.T) {
	l := NewLoop(Deps{}, Settings{})
	s := l.Settings()
	assert.Equal(t, 10, s.MaxIterations)
	assert.Equal(t, 10*time.Minute, s.Deadline)
	assert.Equal(t, 30*time.Second, s.LLMTimeout)
	assert.Equal(t, StopLeave, s.StopPolicy)
	assert.Equal(t, 8, s.ContextWindow)

	l.SetSettings(Settings{MaxIterations: 2, StopPolicy: StopBlock})
	assert.Equal(t, 2, l.Settings().MaxIterations)
	assert.Equal(t, StopBlock, l.Settings().StopPolicy)
}
