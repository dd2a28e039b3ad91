// ABOUTME: Per-agent-type poll loop: check capacity, ask the queue, admit, dispatch
// ABOUTME: Backpressure and idle cycles are logged and counted separately

package mesh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/task"
)

var (
	// ErrAdmissionRace is reported for a task that was received but could not
	// be admitted because its type filled up in the meantime.
	ErrAdmissionRace = errors.New("no capacity to admit task")

	// ErrShuttingDown is reported for a task received after shutdown began.
	ErrShuttingDown = errors.New("manager shutting down")
)

func (m *Manager) pollLoop(ctx context.Context, reg agent.Registration) {
	logger := m.logger.With("agent_type", reg.ID)
	logger.Debug("poller started", "max_concurrency", reg.MaxConcurrency)
	defer logger.Debug("poller stopped")

	for ctx.Err() == nil {
		if m.pollOnce(ctx, reg, logger) {
			continue
		}
		if !sleep(ctx, m.pollInterval) {
			return
		}
	}
}

// pollOnce runs one cycle and reports whether a task was dispatched, in which
// case the caller polls again without waiting.
func (m *Manager) pollOnce(ctx context.Context, reg agent.Registration, logger *slog.Logger) bool {
	if !m.gate.HasCapacity(reg.ID) {
		m.metrics.RecordPoll(reg.ID, PollSaturated)
		logger.Debug("at capacity, skipping poll")
		return false
	}

	// The queue may claim the task before replying, so an in-flight poll is
	// not aborted by shutdown; the client's own timeout bounds it and the
	// shutdown check below reports whatever arrives.
	t, err := m.queue.Poll(context.WithoutCancel(ctx), reg.ID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.metrics.RecordPoll(reg.ID, PollError)
		logger.Warn("poll failed", "error", err)
		return false
	}
	if t == nil {
		m.metrics.RecordPoll(reg.ID, PollIdle)
		logger.Debug("no task available")
		return false
	}
	m.metrics.RecordPoll(reg.ID, PollTask)

	if t.AgentType == "" {
		t.AgentType = reg.ID
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = m.now()
	}
	logger = logger.With("task_id", t.ID)

	// Executors outlive the poll context so shutdown drains rather than aborts.
	execCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		logger.Warn("task received during shutdown, reporting failure")
		m.reject(execCtx, t, ErrShuttingDown)
		return false
	}

	permit, ok := m.gate.Acquire(reg.ID)
	if !ok {
		logger.Warn("task received without capacity, reporting failure")
		m.reject(execCtx, t, ErrAdmissionRace)
		return false
	}

	logger.Info("task admitted")
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.execute(execCtx, permit, reg, t, logger)
	}()
	return true
}

// reject reports a failed outcome for a task that was claimed but never run,
// so it does not stay running on the remote side until it expires.
func (m *Manager) reject(ctx context.Context, t *task.Task, reason error) {
	o := task.Failed(t, reason, nil, 0)
	m.metrics.RecordTask(t.AgentType, o.Status, 0)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		_ = m.reporter.report(ctx, o)
	}()
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
