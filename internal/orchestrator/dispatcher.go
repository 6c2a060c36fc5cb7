package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/queue"
)

// Runner executes one orchestration run. *Loop implements it.
type Runner interface {
	Run(ctx context.Context, agentID, taskID string) Outcome
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	ConcurrencyLimit int           // Max concurrent runs (default 4)
	RetryDelay       time.Duration // Pause after a failed Receive (default 1s)
	Logger           *logrus.Entry
}

// Dispatcher feeds triggers from a Source into a Runner with bounded
// concurrency.
type Dispatcher struct {
	config DispatcherConfig
	source queue.Source
	runner Runner
	log    *logrus.Entry

	mu       sync.Mutex
	outcomes map[OutcomeKind]int
}

// NewDispatcher creates a dispatcher reading from source.
func NewDispatcher(cfg DispatcherConfig, source queue.Source, runner Runner) *Dispatcher {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		config:   cfg,
		source:   source,
		runner:   runner,
		log:      log,
		outcomes: make(map[OutcomeKind]int),
	}
}

// Run dispatches until ctx is cancelled or the source closes, then waits for
// in-flight runs. It returns ctx.Err() on cancellation and nil when the
// source is drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.config.ConcurrencyLimit)

	var err error
	for {
		delivery, recvErr := d.source.Receive(ctx)
		if recvErr != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
			if errors.Is(recvErr, queue.ErrClosed) {
				d.log.Info("trigger source closed")
				break
			}
			d.log.WithError(recvErr).Warn("failed to receive trigger")
			select {
			case <-time.After(d.config.RetryDelay):
				continue
			case <-ctx.Done():
				err = ctx.Err()
			}
			break
		}

		// Blocks while ConcurrencyLimit runs are in flight
		g.Go(func() error {
			d.dispatch(ctx, delivery)
			return nil
		})
	}

	g.Wait()
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, delivery *queue.Delivery) {
	trig := delivery.Trigger
	out := d.runner.Run(ctx, trig.AgentID, trig.TaskID)
	d.record(out.Kind)

	// An interrupted run stays unacknowledged so the trigger is redelivered
	if ctx.Err() != nil {
		return
	}
	if err := delivery.Ack(ctx); err != nil {
		d.log.WithError(err).WithField("task_id", trig.TaskID).Warn("failed to ack trigger")
	}
}

func (d *Dispatcher) record(kind OutcomeKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes[kind]++
}

// Outcomes returns how many runs ended with each kind so far.
func (d *Dispatcher) Outcomes() map[OutcomeKind]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[OutcomeKind]int, len(d.outcomes))
	for k, v := range d.outcomes {
		counts[k] = v
	}
	return counts
}
