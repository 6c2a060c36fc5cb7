package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/logger"
)

// RedisQueue is a reliable queue on two Redis lists. Receive atomically moves
// a trigger onto a processing list; Ack removes it from there. Triggers left
// on the processing list by a crashed consumer go back through Recover.
type RedisQueue struct {
	client     redis.UniversalClient
	key        string
	processing string
	block      time.Duration
	log        *logrus.Entry
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithBlockTimeout sets how long one BLMOVE waits before Receive re-checks ctx.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) { q.block = d }
}

// WithRedisLogger sets the queue logger.
func WithRedisLogger(l *logrus.Entry) RedisOption {
	return func(q *RedisQueue) { q.log = l }
}

// NewRedisQueue uses key for pending triggers and key+":processing" for
// delivered, unacknowledged ones.
func NewRedisQueue(client redis.UniversalClient, key string, opts ...RedisOption) *RedisQueue {
	if key == "" {
		key = "taskflow:triggers"
	}
	q := &RedisQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		block:      2 * time.Second,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish pushes t onto the pending list.
func (q *RedisQueue) Publish(ctx context.Context, t Trigger) error {
	payload, err := Encode(t)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish trigger: %w", err)
	}
	return nil
}

// Receive blocks until a trigger arrives or ctx is done. Malformed payloads
// are dropped from the processing list and skipped.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to receive trigger: %w", err)
		}

		t, err := Decode([]byte(payload))
		if err != nil {
			q.log.WithError(err).WithField("payload", payload).Warn("dropping malformed trigger")
			q.remove(ctx, payload)
			continue
		}
		return NewDelivery(t, func(ctx context.Context) error {
			return q.remove(ctx, payload)
		}), nil
	}
}

func (q *RedisQueue) remove(ctx context.Context, payload string) error {
	if err := q.client.LRem(ctx, q.processing, 1, payload).Err(); err != nil {
		return fmt.Errorf("failed to ack trigger: %w", err)
	}
	return nil
}

// Recover moves every unacknowledged trigger back to the pending list, oldest
// first in line. Call it at startup, before any consumer runs.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover triggers: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.log.WithField("count", moved).Info("recovered unacknowledged triggers")
	}
	return moved, nil
}

// Len reports how many triggers are pending.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
