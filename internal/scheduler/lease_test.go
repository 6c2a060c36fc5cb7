package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseTable_Exclusive(t *testing.T) {
	ctx := context.Background()
	table := NewLeaseTable()

	lease, err := table.TryAcquire(ctx, "task-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "task-1", lease.Key())
	assert.NotEmpty(t, lease.Token())
	assert.True(t, table.Held("task-1"))

	_, err = table.TryAcquire(ctx, "task-1", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	other, err := table.TryAcquire(ctx, "task-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, table.Held("task-1"))

	again, err := table.TryAcquire(ctx, "task-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLeaseTable_ExpiredLeaseCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	table := NewLeaseTable()
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table.now = func() time.Time { return current }

	stale, err := table.TryAcquire(ctx, "task-1", time.Second)
	require.NoError(t, err)

	current = current.Add(2 * time.Second)
	fresh, err := table.TryAcquire(ctx, "task-1", time.Minute)
	require.NoError(t, err)

	// The stale holder must not release the new owner's lease
	require.NoError(t, stale.Release(ctx))
	assert.True(t, table.Held("task-1"))

	require.NoError(t, fresh.Release(ctx))
	assert.False(t, table.Held("task-1"))
}

func TestLeaseTable_ConcurrentAcquireHasOneWinner(t *testing.T) {
	ctx := context.Background()
	table := NewLeaseTable()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := table.TryAcquire(ctx, "task-1", time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisLeaser(t *testing.T) {
	addr := os.Getenv("TASKFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKFLOW_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	leaser := NewRedisLeaser(client, "taskflow:test:lease:")
	key := "task-" + time.Now().Format("150405.000000000")

	lease, err := leaser.TryAcquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = leaser.TryAcquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, lease.Release(ctx))

	again, err := leaser.TryAcquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
