// ABOUTME: Submits task outcomes with bounded exponential backoff
// ABOUTME: Permanent errors stop at once; exhausted outcomes are logged and dropped

package mesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/task"
)

// SubmitPolicy bounds result submission retries.
type SubmitPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultSubmitPolicy retries three times starting at 500ms.
func DefaultSubmitPolicy() SubmitPolicy {
	return SubmitPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

type reporter struct {
	queue   Queue
	policy  SubmitPolicy
	metrics Metrics
	logger  *slog.Logger
}

func newReporter(q Queue, policy SubmitPolicy, metrics Metrics, logger *slog.Logger) *reporter {
	return &reporter{queue: q, policy: policy, metrics: metrics, logger: logger}
}

func (r *reporter) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := max(r.policy.MaxRetries, 0)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// report submits o, retrying transient failures. It returns the last error
// once retries are exhausted; the outcome is dropped in that case and the
// queue's own expiry takes over.
func (r *reporter) report(ctx context.Context, o *task.Outcome) error {
	logger := r.logger.With("task_id", o.TaskID, "agent_type", o.AgentType)

	attempts := 0
	op := func() error {
		attempts++
		err := r.queue.Submit(ctx, o)
		if err != nil && !queue.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("submit failed, retrying", "error", err, "attempt", attempts, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, r.newBackOff(ctx), notify); err != nil {
		r.metrics.RecordSubmitFailure(o.AgentType)
		logger.Error("dropping task outcome", "error", err, "attempts", attempts, "status", o.Status)
		return err
	}
	logger.Debug("task outcome submitted", "status", o.Status, "attempts", attempts)
	return nil
}
