package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aristath/taskflow/internal/agents"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/lifecycle"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

// store is what the commands need from a persistence driver.
type store interface {
	lifecycle.Repository
	orchestrator.MemoryLog
	Close() error
}

// memoryStore gives InMemoryStore the Close the sqlite driver has.
type memoryStore struct {
	*persistence.InMemoryStore
}

func (memoryStore) Close() error { return nil }

func (a *app) openStore(ctx context.Context) (store, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		return memoryStore{persistence.NewInMemoryStore()}, nil
	default:
		s, err := persistence.NewSQLiteStore(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening task store: %w", err)
		}
		return s, nil
	}
}

// openService opens the store and builds the lifecycle service over it.
func (a *app) openService(ctx context.Context, opts ...lifecycle.Option) (*lifecycle.Service, store, error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]lifecycle.Option{lifecycle.WithLogger(logger.Component(a.log, "lifecycle"))}, opts...)
	return lifecycle.NewService(s, opts...), s, nil
}

// agentLookup resolves agents from config or from the agents table.
type agentLookup interface {
	agents.Lookup
	Close() error
}

type configAgents struct {
	*agents.Directory
}

func (configAgents) Close() error { return nil }

func (a *app) openAgents(ctx context.Context) (agentLookup, error) {
	if a.cfg.AgentStore.Driver != "mysql" {
		return configAgents{agents.NewDirectoryFromConfig(a.cfg.Agents)}, nil
	}
	dir, err := agents.OpenMySQL(ctx, a.cfg.AgentStore.DSN)
	if err != nil {
		return nil, err
	}
	if err := dir.AutoMigrate(ctx); err != nil {
		dir.Close()
		return nil, err
	}
	return dir, nil
}

// redisClient is nil unless a redis driver is configured.
func (a *app) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if a.cfg.Queue.Driver != "redis" && a.cfg.Lease.Driver != "redis" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	return client, nil
}

func newLeaser(cfg config.LeaseConfig, client redis.UniversalClient) scheduler.Leaser {
	if cfg.Driver == "redis" && client != nil {
		return scheduler.NewRedisLeaser(client, cfg.Prefix)
	}
	return scheduler.NewLeaseTable()
}

// errNoBroker means triggers cannot leave this process.
var errNoBroker = errors.New("queue driver is memory; serve picks the task up on its next rescan")

// publishTrigger hands a trigger to the configured broker from a one-shot
// command.
func (a *app) publishTrigger(ctx context.Context, t queue.Trigger) error {
	if a.cfg.Queue.Driver != "redis" {
		return errNoBroker
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return queue.NewRedisQueue(client, a.cfg.Queue.RedisKey).Publish(ctx, t)
}
