package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds our token, so a lease that
// expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser hands out leases shared by every process talking to the same Redis.
type RedisLeaser struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLeaser creates a RedisLeaser storing leases under prefix.
func NewRedisLeaser(client redis.UniversalClient, prefix string) *RedisLeaser {
	if prefix == "" {
		prefix = "taskflow:lease:"
	}
	return &RedisLeaser{client: client, prefix: prefix}
}

// TryAcquire sets the lease key with NX and a millisecond expiry.
func (r *RedisLeaser) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	fullKey := r.prefix + key

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &redisLease{client: r.client, key: key, fullKey: fullKey, token: token}, nil
}

type redisLease struct {
	client  redis.UniversalClient
	key     string
	fullKey string
	token   string
}

func (l *redisLease) Key() string   { return l.key }
func (l *redisLease) Token() string { return l.token }

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.fullKey}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}
