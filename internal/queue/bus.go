package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/aristath/taskflow/internal/events"
)

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(topic string, bufSize int) <-chan events.Event
}

// BusSource turns TaskAssignedEvents on the bus into deliveries. Events that
// arrive while the subscriber buffer is full are dropped by the bus.
type BusSource struct {
	ch <-chan events.Event
}

// NewBusSource subscribes to the task topic.
func NewBusSource(bus Subscriber, bufSize int) *BusSource {
	return &BusSource{ch: bus.Subscribe(events.TopicTask, bufSize)}
}

// Receive returns the next assignment. Other task events are skipped.
func (s *BusSource) Receive(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				return nil, ErrClosed
			}
			assigned, isAssigned := ev.(events.TaskAssignedEvent)
			if !isAssigned || assigned.AgentID == "" {
				continue
			}
			return NewDelivery(Trigger{AgentID: assigned.AgentID, TaskID: assigned.ID}, nil), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Merged reads from several sources at once.
type Merged struct {
	out  chan result
	wg   sync.WaitGroup
	done chan struct{}
}

type result struct {
	d   *Delivery
	err error
}

// Merge starts one reader per source. Readers stop when ctx is done; once
// every source is closed Receive returns ErrClosed.
func Merge(ctx context.Context, sources ...Source) *Merged {
	m := &Merged{out: make(chan result), done: make(chan struct{})}
	for _, src := range sources {
		m.wg.Add(1)
		go m.pump(ctx, src)
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Merged) pump(ctx context.Context, src Source) {
	defer m.wg.Done()
	for {
		d, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			// Transient receive errors are handed to the consumer
			select {
			case m.out <- result{err: err}:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case m.out <- result{d: d}:
		case <-ctx.Done():
			return
		}
	}
}

// Receive returns the next delivery from any source.
func (m *Merged) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case r := <-m.out:
		return r.d, r.err
	case <-m.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
