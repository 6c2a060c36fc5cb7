// Package queue carries orchestration triggers: "agent X should work on task
// Y". Sources deliver triggers to the dispatcher; Sinks accept new ones.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
)

// RoutingKeyTaskAssigned names the trigger stream on brokers that route by key.
const RoutingKeyTaskAssigned = "task.assigned"

var (
	// ErrQueueFull is returned by Publish when a bounded queue has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned once a queue or source has shut down.
	ErrClosed = errors.New("queue closed")
)

// Trigger asks for one orchestration run.
type Trigger struct {
	AgentID string `json:"agentId"`
	TaskID  string `json:"taskId"`
}

func (t Trigger) validate() error {
	var missing []string
	if strings.TrimSpace(t.AgentID) == "" {
		missing = append(missing, "agentId")
	}
	if strings.TrimSpace(t.TaskID) == "" {
		missing = append(missing, "taskId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid trigger: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Encode serializes a trigger as JSON.
func Encode(t Trigger) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

// Decode parses a JSON trigger. Unknown members and empty ids are errors.
func Decode(data []byte) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(data, &t, json.RejectUnknownMembers(true)); err != nil {
		return Trigger{}, fmt.Errorf("invalid trigger: %w", err)
	}
	if err := t.validate(); err != nil {
		return Trigger{}, err
	}
	return t, nil
}

// Delivery is a received trigger. Ack removes it from the source; an
// unacknowledged delivery may be delivered again.
type Delivery struct {
	Trigger Trigger
	ack     func(ctx context.Context) error
	once    sync.Once
}

// NewDelivery wraps t with an ack callback. A nil ack is a no-op.
func NewDelivery(t Trigger, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{Trigger: t, ack: ack}
}

// Ack acknowledges the delivery. Only the first call reaches the source.
func (d *Delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if d.ack != nil {
			err = d.ack(ctx)
		}
	})
	return err
}

// Source yields deliveries. Receive blocks until one is available, ctx is
// done, or the source is closed (ErrClosed).
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// Sink accepts triggers.
type Sink interface {
	Publish(ctx context.Context, t Trigger) error
}
