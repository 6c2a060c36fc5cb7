package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a bounded in-process queue. Deliveries need no ack.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan Trigger
	closed bool
}

// NewMemoryQueue creates a queue holding up to buffer triggers.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan Trigger, buffer)}
}

// Publish enqueues t without blocking.
func (q *MemoryQueue) Publish(_ context.Context, t Trigger) error {
	if err := t.validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive returns the next trigger. Triggers queued before Close are still
// delivered; after that Receive returns ErrClosed.
func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case t, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return NewDelivery(t, nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many triggers are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting triggers. Safe to call more than once.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
