// ABOUTME: Tests for outcome submission retries and idempotent reporting
// ABOUTME: Uses a scripted queue for failures and the queue service for duplicates

package mesh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/task"
)

type scriptedQueue struct {
	mu      sync.Mutex
	errs    []error // returned in order; the last one repeats
	submits int
}

func (q *scriptedQueue) Poll(context.Context, string) (*task.Task, error) { return nil, nil }

func (q *scriptedQueue) PushUpdate(context.Context, string, task.Event) error { return nil }

func (q *scriptedQueue) Submit(context.Context, *task.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits++
	if len(q.errs) == 0 {
		return nil
	}
	err := q.errs[0]
	if len(q.errs) > 1 {
		q.errs = q.errs[1:]
	}
	return err
}

func (q *scriptedQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

var fastPolicy = SubmitPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func unavailable() error {
	return &queue.StatusError{Op: "submit", Code: http.StatusServiceUnavailable}
}

func testOutcome() *task.Outcome {
	return task.Finished(&task.Task{ID: "t-1", AgentType: "Echo"}, map[string]any{"response": "hi"}, nil, time.Second)
}

func TestReporter_RetriesTransientErrors(t *testing.T) {
	q := &scriptedQueue{errs: []error{unavailable(), unavailable(), nil}}
	metrics := newRecordingMetrics()
	r := newReporter(q, fastPolicy, metrics, slog.Default())

	require.NoError(t, r.report(context.Background(), testOutcome()))
	assert.Equal(t, 3, q.count())
	assert.Zero(t, metrics.submitFailures)
}

func TestReporter_PermanentErrorStopsImmediately(t *testing.T) {
	q := &scriptedQueue{errs: []error{&queue.StatusError{Op: "submit", Code: http.StatusBadRequest}}}
	metrics := newRecordingMetrics()
	r := newReporter(q, fastPolicy, metrics, slog.Default())

	err := r.report(context.Background(), testOutcome())
	var se *queue.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, 1, q.count())
	assert.Equal(t, 1, metrics.submitFailures)
}

func TestReporter_GivesUpAfterMaxRetries(t *testing.T) {
	q := &scriptedQueue{errs: []error{unavailable()}}
	metrics := newRecordingMetrics()
	policy := fastPolicy
	policy.MaxRetries = 2
	r := newReporter(q, policy, metrics, slog.Default())

	require.Error(t, r.report(context.Background(), testOutcome()))
	assert.Equal(t, 3, q.count(), "one attempt plus two retries")
	assert.Equal(t, 1, metrics.submitFailures)
}

func TestReporter_DuplicateSubmitHasNoEffect(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	id := createTask(t, q, "Echo", "once")
	claimed, err := q.Poll(ctx, "Echo")
	require.NoError(t, err)

	r := newReporter(q, fastPolicy, newRecordingMetrics(), slog.Default())
	first := task.Finished(claimed, map[string]any{"response": "first"},
		[]task.Event{{Seq: 1, Timestamp: time.Now().UTC(), Content: "only step"}}, time.Second)
	require.NoError(t, r.report(ctx, first))
	before := queryTask(t, q, id)

	require.NoError(t, r.report(ctx, first))
	retry := task.Failed(claimed, errors.New("different outcome"), nil, 0)
	require.NoError(t, r.report(ctx, retry))

	after := queryTask(t, q, id)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Result, after.Result)
	assert.Equal(t, before.Events, after.Events)
	assert.Equal(t, before.Latency, after.Latency)
}

func TestDefaultSubmitPolicy(t *testing.T) {
	p := DefaultSubmitPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 5*time.Second, p.MaxInterval)
}

func TestReporter_SubmitAfterPollOutageIsDelivered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	c := queue.NewHTTPClient(srv.URL, queue.Options{BreakerMaxFailures: 5, BreakerOpenTimeout: time.Minute})
	defer c.Close()

	// Enough failed polls to open the poll breaker for this agent type.
	for i := 0; i < 5; i++ {
		_, err := c.Poll(context.Background(), "Echo")
		require.Error(t, err)
	}
	_, err := c.Poll(context.Background(), "Echo")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	metrics := newRecordingMetrics()
	r := newReporter(c, DefaultSubmitPolicy(), metrics, slog.Default())

	require.NoError(t, r.report(context.Background(), testOutcome()))
	assert.Equal(t, int32(6), calls.Load(), "the submit reached the recovered queue on its first attempt")
	assert.Zero(t, metrics.submitFailures)
}
