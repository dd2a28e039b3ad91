// ABOUTME: Tests for the per-task progress recorder
// ABOUTME: Checks sequence numbering, push failures, and emits after completion

package mesh

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/task"
)

type pushRecorder struct {
	scriptedQueue
	pushed []task.Event
	err    error
}

func (p *pushRecorder) PushUpdate(_ context.Context, _ string, ev task.Event) error {
	p.pushed = append(p.pushed, ev)
	return p.err
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

func TestRecorder_NumbersAndPushesInOrder(t *testing.T) {
	q := &pushRecorder{}
	r := newRecorder(q, "t-1", fixedNow, slog.Default())
	ctx := context.Background()

	r.Emit(ctx, "searching")
	r.Emit(ctx, "summarising")

	events := r.finish()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, 2, events[1].Seq)
	assert.Equal(t, "summarising", events[1].Content)
	assert.Equal(t, fixedNow(), events[0].Timestamp)
	assert.Equal(t, events, q.pushed)
}

func TestRecorder_PushFailureKeepsStep(t *testing.T) {
	q := &pushRecorder{err: errors.New("queue down")}
	r := newRecorder(q, "t-1", fixedNow, slog.Default())

	r.Emit(context.Background(), "still recorded")
	events := r.finish()
	require.Len(t, events, 1)
	assert.Equal(t, "still recorded", events[0].Content)
}

func TestRecorder_EmitAfterFinishIsDropped(t *testing.T) {
	q := &pushRecorder{}
	r := newRecorder(q, "t-1", fixedNow, slog.Default())
	events := r.finish()
	r.Emit(context.Background(), "late")

	assert.Empty(t, events)
	assert.Empty(t, q.pushed)
	assert.Empty(t, r.finish())
}

func TestRecorder_WithoutQueueOnlyCollects(t *testing.T) {
	r := newRecorder(nil, "direct-1", fixedNow, slog.Default())
	r.Emit(context.Background(), "one")
	r.Emit(context.Background(), "two")

	events := r.finish()
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].Seq)
}
