package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseHeld is returned by TryAcquire when another owner holds an unexpired lease.
var ErrLeaseHeld = errors.New("lease held by another owner")

// Lease is exclusive, time-bounded ownership of a key.
type Lease interface {
	Key() string
	Token() string
	// Release gives up the lease if it is still owned by this token.
	Release(ctx context.Context) error
}

// Leaser hands out leases without blocking.
type Leaser interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// LeaseTable is an in-process Leaser. Expired leases can be taken over.
type LeaseTable struct {
	mu     sync.Mutex
	leases map[string]leaseEntry
	now    func() time.Time
}

type leaseEntry struct {
	token   string
	expires time.Time
}

// NewLeaseTable creates an empty LeaseTable.
func NewLeaseTable() *LeaseTable {
	return &LeaseTable{
		leases: make(map[string]leaseEntry),
		now:    time.Now,
	}
}

// TryAcquire takes the lease on key for ttl, or returns ErrLeaseHeld.
func (t *LeaseTable) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.now()
	if entry, held := t.leases[key]; held && current.Before(entry.expires) {
		return nil, ErrLeaseHeld
	}

	token := uuid.NewString()
	t.leases[key] = leaseEntry{token: token, expires: current.Add(ttl)}
	return &tableLease{table: t, key: key, token: token}, nil
}

// Held reports whether key has an unexpired lease.
func (t *LeaseTable) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, held := t.leases[key]
	return held && t.now().Before(entry.expires)
}

func (t *LeaseTable) release(key, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, held := t.leases[key]; held && entry.token == token {
		delete(t.leases, key)
	}
}

type tableLease struct {
	table *LeaseTable
	key   string
	token string
}

func (l *tableLease) Key() string   { return l.key }
func (l *tableLease) Token() string { return l.token }

func (l *tableLease) Release(context.Context) error {
	l.table.release(l.key, l.token)
	return nil
}
