// ABOUTME: Records a task's progress steps in order and pushes each to the queue
// ABOUTME: The recorded steps are repeated in the final outcome

package mesh

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/mesh-manager/internal/task"
)

// recorder implements agent.Progress for one task. Emit holds the lock across
// the push so steps reach the queue in sequence order. A nil queue only
// collects steps.
type recorder struct {
	mu     sync.Mutex
	queue  Queue
	taskID string
	now    func() time.Time
	logger *slog.Logger
	events []task.Event
	closed bool
}

func newRecorder(q Queue, taskID string, now func() time.Time, logger *slog.Logger) *recorder {
	return &recorder{queue: q, taskID: taskID, now: now, logger: logger}
}

func (r *recorder) Emit(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Debug("dropping step emitted after completion")
		return
	}
	ev := task.Event{
		Seq:       len(r.events) + 1,
		Timestamp: r.now().UTC(),
		Content:   content,
	}
	r.events = append(r.events, ev)

	if r.queue == nil {
		return
	}
	// A lost push is not fatal: the step is still part of the final submit.
	if err := r.queue.PushUpdate(ctx, r.taskID, ev); err != nil {
		r.logger.Warn("pushing step failed", "seq", ev.Seq, "error", err)
	}
}

// finish stops recording and returns the steps emitted so far.
func (r *recorder) finish() []task.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return slices.Clone(r.events)
}
