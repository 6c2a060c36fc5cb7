package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/task"
)

// mockRunner records runs and optionally blocks until released.
type mockRunner struct {
	mu       sync.Mutex
	runs     []queue.Trigger
	delay    time.Duration
	outcome  OutcomeKind
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (m *mockRunner) Run(ctx context.Context, agentID, taskID string) Outcome {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return Outcome{Kind: OutcomeExhausted, Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	m.runs = append(m.runs, queue.Trigger{AgentID: agentID, TaskID: taskID})
	m.mu.Unlock()

	kind := m.outcome
	if kind == "" {
		kind = OutcomeCompleted
	}
	return Outcome{Kind: kind}
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// ackingSource hands out fixed deliveries and counts acks.
type ackingSource struct {
	mu      sync.Mutex
	pending []queue.Trigger
	acked   atomic.Int32
	errs    int // Transient errors to return before the first delivery
}

func (s *ackingSource) Receive(ctx context.Context) (*queue.Delivery, error) {
	s.mu.Lock()
	if s.errs > 0 {
		s.errs--
		s.mu.Unlock()
		return nil, errors.New("broker unavailable")
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	return queue.NewDelivery(t, func(context.Context) error {
		s.acked.Add(1)
		return nil
	}), nil
}

func triggers(n int) []queue.Trigger {
	out := make([]queue.Trigger, n)
	for i := range out {
		out[i] = queue.Trigger{AgentID: "writer", TaskID: string(rune('a' + i))}
	}
	return out
}

func TestDispatcher_RunsEveryTrigger(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	for _, trig := range triggers(5) {
		if err := q.Publish(context.Background(), trig); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	q.Close()

	runner := &mockRunner{}
	d := NewDispatcher(DispatcherConfig{ConcurrencyLimit: 2}, q, runner)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if runner.count() != 5 {
		t.Errorf("Expected 5 runs, got %d", runner.count())
	}
	if got := d.Outcomes()[OutcomeCompleted]; got != 5 {
		t.Errorf("Expected 5 completed outcomes, got %d", got)
	}
}

func TestDispatcher_ConcurrencyLimit(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	for _, trig := range triggers(8) {
		q.Publish(context.Background(), trig)
	}
	q.Close()

	runner := &mockRunner{delay: 50 * time.Millisecond}
	d := NewDispatcher(DispatcherConfig{ConcurrencyLimit: 3}, q, runner)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if peak := runner.maxSeen.Load(); peak > 3 {
		t.Errorf("Expected at most 3 concurrent runs, saw %d", peak)
	}
	if peak := runner.maxSeen.Load(); peak < 2 {
		t.Errorf("Expected runs to overlap, max concurrency was %d", peak)
	}
	if runner.count() != 8 {
		t.Errorf("Expected 8 runs, got %d", runner.count())
	}
}

func TestDispatcher_AcksEveryOutcome(t *testing.T) {
	for _, kind := range []OutcomeKind{OutcomeCompleted, OutcomeBusy, OutcomeSkipped, OutcomeFailed} {
		t.Run(string(kind), func(t *testing.T) {
			src := &ackingSource{pending: triggers(3)}
			runner := &mockRunner{outcome: kind}
			d := NewDispatcher(DispatcherConfig{ConcurrencyLimit: 2}, src, runner)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- d.Run(ctx) }()

			deadline := time.Now().Add(2 * time.Second)
			for src.acked.Load() < 3 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()

			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Errorf("Expected context.Canceled, got %v", err)
			}
			if got := src.acked.Load(); got != 3 {
				t.Errorf("Expected 3 acks, got %d", got)
			}
		})
	}
}

func TestDispatcher_InterruptedRunsAreNotAcked(t *testing.T) {
	src := &ackingSource{pending: triggers(1)}
	runner := &mockRunner{delay: 10 * time.Second}
	d := NewDispatcher(DispatcherConfig{}, src, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runner.inFlight.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not wait for in-flight runs and return")
	}
	if got := src.acked.Load(); got != 0 {
		t.Errorf("Expected interrupted run to stay unacked, got %d acks", got)
	}
}

func TestDispatcher_RetriesAfterReceiveError(t *testing.T) {
	src := &ackingSource{pending: triggers(1), errs: 2}
	runner := &mockRunner{}
	d := NewDispatcher(DispatcherConfig{RetryDelay: 10 * time.Millisecond}, src, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.acked.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if runner.count() != 1 {
		t.Errorf("Expected the trigger to run after transient errors, got %d runs", runner.count())
	}
}

// TestDispatcher_EndToEnd feeds a real Loop from the queue it promotes
// dependents into.
func TestDispatcher_EndToEnd(t *testing.T) {
	f := newFixture(t)
	research := f.create(t, "Research", "writer")
	draft := f.create(t, "Draft", "writer", research.ID())

	l := f.loop(&scriptedLLM{replies: []string{"DONE"}}, quick)
	d := NewDispatcher(DispatcherConfig{ConcurrencyLimit: 2}, f.sink, l)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sink.Publish(ctx, queue.Trigger{AgentID: "writer", TaskID: research.ID()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for ctx.Err() == nil {
		if f.get(t, draft.ID()).IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := f.get(t, draft.ID()).Status(); got != task.StatusCompleted {
		t.Fatalf("Expected dependent to be completed by the follow-up trigger, got %s", got)
	}
	if got := d.Outcomes()[OutcomeCompleted]; got != 2 {
		t.Errorf("Expected 2 completed runs, got %d", got)
	}
}
