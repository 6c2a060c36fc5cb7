package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/lifecycle"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/task"
	"github.com/aristath/taskflow/internal/tools"
	"github.com/aristath/taskflow/internal/tui"
)

type serveOptions struct {
	tui    bool
	rescan time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration loop over assigned tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the terminal monitor")
	cmd.Flags().DurationVar(&opts.rescan, "rescan", 30*time.Second, "how often to look for ready assigned tasks (0 disables)")
	return cmd
}

func (a *app) serve(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.tui {
		// The monitor owns the terminal, so only the log file gets entries
		quiet, err := logger.NewQuiet(a.cfg.Log)
		if err != nil {
			return err
		}
		a.log = quiet
	}
	log := logger.Component(a.log, "serve")

	bus := events.NewBus()
	defer bus.Close()

	svc, st, err := a.openService(ctx, lifecycle.WithPublisher(bus))
	if err != nil {
		return err
	}
	defer st.Close()

	dir, err := a.openAgents(ctx)
	if err != nil {
		return err
	}
	defer dir.Close()

	pm := backend.NewProcessManager()
	router, err := backend.NewRouterFromConfig(a.cfg, pm, logger.Component(a.log, "llm"))
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(tools.WithLogger(logger.Component(a.log, "tools")))
	registry.MustRegister(tools.Echo())

	client, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	var (
		sink    queue.Sink
		primary queue.Source
	)
	switch a.cfg.Queue.Driver {
	case "redis":
		rq := queue.NewRedisQueue(client, a.cfg.Queue.RedisKey, queue.WithRedisLogger(logger.Component(a.log, "queue")))
		// Triggers a crashed process was holding go back on the queue
		if n, err := rq.Recover(ctx); err != nil {
			log.WithError(err).Warn("failed to recover in-flight triggers")
		} else if n > 0 {
			log.WithField("count", n).Info("recovered in-flight triggers")
		}
		sink, primary = rq, rq
	default:
		mq := queue.NewMemoryQueue(a.cfg.Queue.Buffer)
		defer mq.Close()
		sink, primary = mq, mq
	}
	// Assignments made inside this process arrive over the bus
	source := queue.Merge(ctx, primary, queue.NewBusSource(bus, a.cfg.Queue.Buffer))

	loop := orchestrator.NewLoop(orchestrator.Deps{
		Tasks:     svc,
		Agents:    dir,
		LLM:       router,
		Tools:     registry,
		Memory:    st,
		Leaser:    newLeaser(a.cfg.Lease, client),
		Sink:      sink,
		Publisher: bus,
		Logger:    logger.Component(a.log, "orchestrator"),
	}, orchestrator.SettingsFromConfig(a.cfg.Orchestration))

	watcher, err := config.Watch(a.globalPath, a.projectPath, 0, func(cfg *config.Config, err error) {
		if err != nil {
			log.WithError(err).Warn("config reload failed, keeping current settings")
			return
		}
		logger.ApplyLevel(a.log, cfg.Log.Level)
		loop.SetSettings(orchestrator.SettingsFromConfig(cfg.Orchestration))
		log.Info("orchestration settings reloaded")
	})
	if err != nil {
		log.WithError(err).Warn("config watch disabled")
	} else {
		defer watcher.Close()
	}

	dispatcher := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		ConcurrencyLimit: a.cfg.Orchestration.Concurrency,
		Logger:           logger.Component(a.log, "dispatcher"),
	}, source, loop)

	go rescan(ctx, svc, sink, opts.rescan, log)

	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()
	log.WithFields(logrus.Fields{
		"queue":       a.cfg.Queue.Driver,
		"lease":       a.cfg.Lease.Driver,
		"storage":     a.cfg.Storage.Driver,
		"concurrency": a.cfg.Orchestration.Concurrency,
	}).Info("serving")

	if opts.tui {
		uiErr := tui.Run(bus)
		// Quitting the monitor stops the server
		stop()
		if uiErr != nil {
			log.WithError(uiErr).Error("monitor exited with error")
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	if err := pm.KillAll(); err != nil {
		log.WithError(err).Warn("failed to kill provider processes")
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(10 * time.Second):
		log.Warn("shutdown timeout exceeded, forcing exit")
	}
	log.WithField("outcomes", dispatcher.Outcomes()).Info("shutdown complete")
	return nil
}

// rescan triggers runnable assigned tasks every interval, starting now.
// Redundant triggers end as busy or skipped runs.
func rescan(ctx context.Context, svc *lifecycle.Service, sink queue.Sink, every time.Duration, log *logrus.Entry) {
	for {
		rescanOnce(ctx, svc, sink, log)

		if every <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
		}
	}
}

// rescanOnce queues a trigger for every assigned task that is ready to start
// or still IN_PROGRESS. The latter covers runs a previous process left behind
// and runs settled with the leave policy. It returns the number queued.
func rescanOnce(ctx context.Context, svc *lifecycle.Service, sink queue.Sink, log *logrus.Entry) int {
	ready, err := svc.GetReadyTasks(ctx)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("failed to list ready tasks")
	}
	running, err := svc.GetTasksByStatus(ctx, task.StatusInProgress)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("failed to list in-progress tasks")
	}
	return publishAll(ctx, append(ready, running...), sink, log)
}

func publishAll(ctx context.Context, tasks []*task.Task, sink queue.Sink, log *logrus.Entry) int {
	queued := 0
	for _, t := range tasks {
		if !t.IsAssigned() {
			continue
		}
		trig := queue.Trigger{AgentID: t.AssignedAgent(), TaskID: t.ID()}
		if err := sink.Publish(ctx, trig); err != nil {
			log.WithError(err).WithField("task_id", t.ID()).Warn("failed to enqueue trigger")
			continue
		}
		queued++
	}
	return queued
}
