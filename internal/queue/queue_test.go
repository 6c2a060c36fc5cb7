package queue

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/events"
)

func TestTriggerCodec(t *testing.T) {
	data, err := Encode(Trigger{AgentID: "a-1", TaskID: "t-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"agentId":"a-1","taskId":"t-1"}`, string(data))

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Trigger{AgentID: "a-1", TaskID: "t-1"}, got)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "unknown member", payload: `{"agentId":"a","taskId":"t","priority":1}`, wantErr: "priority"},
		{name: "missing task", payload: `{"agentId":"a"}`, wantErr: "missing taskId"},
		{name: "blank ids", payload: `{"agentId":" ","taskId":""}`, wantErr: "missing agentId, taskId"},
		{name: "not json", payload: `agent=a`, wantErr: "invalid trigger"},
		{name: "wrong type", payload: `{"agentId":1,"taskId":"t"}`, wantErr: "invalid trigger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncodeRejectsEmptyIDs(t *testing.T) {
	_, err := Encode(Trigger{TaskID: "t"})
	assert.ErrorContains(t, err, "missing agentId")
}

func TestDeliveryAckOnce(t *testing.T) {
	var calls atomic.Int32
	d := NewDelivery(Trigger{AgentID: "a", TaskID: "t"}, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, d.Ack(context.Background()))
	require.NoError(t, d.Ack(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	assert.NoError(t, NewDelivery(Trigger{}, nil).Ack(context.Background()))
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	require.NoError(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "1"}))
	require.NoError(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "2"}))
	assert.ErrorIs(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "3"}), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", d.Trigger.TaskID)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "4"}), ErrClosed)

	// Queued triggers survive Close
	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", d.Trigger.TaskID)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusSourceDeliversAssignments(t *testing.T) {
	bus := events.NewBus()
	src := NewBusSource(bus, 8)

	bus.Publish(events.TopicTask, events.TaskTransitionEvent{ID: "t-0", Op: "create"})
	bus.Publish(events.TopicTask, events.TaskAssignedEvent{ID: "t-0"})
	bus.Publish(events.TopicTask, events.TaskAssignedEvent{ID: "t-1", AgentID: "writer"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, Trigger{AgentID: "writer", TaskID: "t-1"}, d.Trigger)

	bus.Close()
	_, err = src.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMerge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, b := NewMemoryQueue(4), NewMemoryQueue(4)
	require.NoError(t, a.Publish(ctx, Trigger{AgentID: "x", TaskID: "from-a"}))
	require.NoError(t, b.Publish(ctx, Trigger{AgentID: "x", TaskID: "from-b"}))

	m := Merge(ctx, a, b)
	seen := map[string]bool{}
	for range 2 {
		d, err := m.Receive(ctx)
		require.NoError(t, err)
		seen[d.Trigger.TaskID] = true
	}
	assert.Equal(t, map[string]bool{"from-a": true, "from-b": true}, seen)

	a.Close()
	b.Close()
	_, err := m.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TASKFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKFLOW_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisQueueAckAndRecover(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	key := "taskflow-test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, key, key+":processing") })

	q := NewRedisQueue(client, key, WithBlockTimeout(100*time.Millisecond))
	require.NoError(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "1"}))
	require.NoError(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "2"}))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", first.Trigger.TaskID)
	require.NoError(t, first.Ack(ctx))

	// Received but never acked, as if the consumer crashed
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", second.Trigger.TaskID)

	pending, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", again.Trigger.TaskID)
	require.NoError(t, again.Ack(ctx))

	left, err := client.LLen(ctx, key+":processing").Result()
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestRedisQueueSkipsMalformed(t *testing.T) {
	client := redisClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	key := "taskflow-test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key, key+":processing") })

	q := NewRedisQueue(client, key, WithBlockTimeout(100*time.Millisecond))
	require.NoError(t, client.LPush(ctx, key, `{"agentId":"a"}`).Err())
	require.NoError(t, q.Publish(ctx, Trigger{AgentID: "a", TaskID: "ok"}))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", d.Trigger.TaskID)
	require.NoError(t, d.Ack(ctx))

	left, err := client.LLen(ctx, key+":processing").Result()
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestRedisQueueReceiveHonorsContext(t *testing.T) {
	client := redisClient(t)
	key := "taskflow-test:" + uuid.NewString()
	q := NewRedisQueue(client, key, WithBlockTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
