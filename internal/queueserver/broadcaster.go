// ABOUTME: In-memory fan-out of task lifecycle events to live subscribers
// ABOUTME: Publishes steps and status changes to everyone watching a task ID

package queueserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/mesh-manager/internal/task"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event kinds published for a task.
const (
	EventStep   = "step"
	EventStatus = "status"
)

// TaskEvent is one change to a task, as delivered to subscribers.
type TaskEvent struct {
	Kind   string      `json:"kind"`
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status,omitempty"`
	Step   *task.Event `json:"step,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Broadcaster provides in-memory pub/sub for task events keyed by task ID.
// Slow subscribers lose events rather than blocking publishers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan TaskEvent // taskID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan TaskEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on taskID. The subscription is removed and
// the channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, taskID string) (<-chan TaskEvent, string) {
	subID := uuid.NewString()
	ch := make(chan TaskEvent, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[taskID]; !ok {
		b.subscribers[taskID] = make(map[string]chan TaskEvent)
	}
	b.subscribers[taskID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "task_id", taskID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(taskID, subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber of ev.TaskID without blocking.
func (b *Broadcaster) Publish(ev TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[ev.TaskID] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"task_id", ev.TaskID,
				"sub_id", subID,
				"kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(taskID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[taskID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, taskID)
	}

	b.logger.Debug("subscriber removed", "task_id", taskID, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions on taskID.
func (b *Broadcaster) Subscribers(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[taskID])
}

// Close closes all subscriber channels. Later Subscribe calls get a closed
// channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for taskID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, taskID)
	}
	b.closed = true
	b.logger.Debug("broadcaster closed")
}
