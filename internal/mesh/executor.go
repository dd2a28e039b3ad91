// ABOUTME: Runs one admitted task: fresh handler, invoke, teardown, release, report
// ABOUTME: Factory errors, handler errors, and panics all become failed outcomes

package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/gate"
	"github.com/2389/mesh-manager/internal/task"
	"github.com/2389/mesh-manager/internal/tracing"
)

var (
	// ErrHandlerConstruction wraps a factory failure.
	ErrHandlerConstruction = errors.New("handler construction failed")

	// ErrHandlerPanic wraps a recovered panic from a factory or handler.
	ErrHandlerPanic = errors.New("handler panicked")
)

// execute runs t and then reports its outcome. The permit is released before
// reporting starts.
func (m *Manager) execute(ctx context.Context, permit *gate.Permit, reg agent.Registration, t *task.Task, logger *slog.Logger) {
	o := m.runTask(ctx, permit, reg, t, newRecorder(m.queue, t.ID, m.now, logger), logger)
	m.metrics.RecordTask(reg.ID, o.Status, o.Latency)
	if o.Status == task.StatusFailed {
		logger.Warn("task failed", "error", o.Error, "latency", o.Latency)
	} else {
		logger.Info("task finished", "latency", o.Latency, "steps", len(o.Events))
	}
	_ = m.reporter.report(ctx, o)
}

func (m *Manager) runTask(ctx context.Context, permit *gate.Permit, reg agent.Registration, t *task.Task, rec *recorder, logger *slog.Logger) *task.Outcome {
	defer permit.Release()

	ctx, span := tracing.StartSpan(ctx, "mesh.execute", trace.WithAttributes(
		attribute.String("agent_type", permit.AgentType()),
		attribute.String("task_id", t.ID),
	))
	defer span.End()

	start := m.now()
	result, err := m.invoke(ctx, reg, t, rec, logger)
	latency := m.now().Sub(start)
	events := rec.finish()

	if err != nil {
		tracing.RecordError(span, err)
		return task.Failed(t, err, events, latency)
	}
	tracing.SetOK(span)
	return task.Finished(t, result, events, latency)
}

// invoke builds a handler, runs it, and tears it down.
func (m *Manager) invoke(ctx context.Context, reg agent.Registration, t *task.Task, progress agent.Progress, logger *slog.Logger) (map[string]any, error) {
	h, err := construct(reg.Factory)
	if err != nil {
		return nil, err
	}
	defer closeHandler(ctx, h, logger)
	return handle(ctx, h, buildRequest(t), progress)
}

func construct(factory agent.Factory) (h agent.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: %w: %v", ErrHandlerConstruction, ErrHandlerPanic, r)
		}
	}()
	h, err = factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandlerConstruction, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: factory returned no handler", ErrHandlerConstruction)
	}
	return h, nil
}

func handle(ctx context.Context, h agent.Handler, req agent.Request, progress agent.Progress) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	result, err = h.Handle(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

func closeHandler(ctx context.Context, h agent.Handler, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler close panicked", "panic", r)
		}
	}()
	if err := h.Close(ctx); err != nil {
		logger.Warn("handler close failed", "error", err)
	}
}

// buildRequest converts a task into handler input. The origin task ID is the
// task's own ID for top-level tasks, and is mirrored into the input so nested
// calls can propagate it.
func buildRequest(t *task.Task) agent.Request {
	origin := t.OriginTaskID
	if origin == "" {
		origin = t.ID
	}
	req := agent.Request{
		TaskID:       t.ID,
		OriginTaskID: origin,
		AgentType:    t.AgentType,
		APIKey:       t.APIKey,
	}.WithInput(t.Payload)
	if req.Input == nil {
		req.Input = map[string]any{}
	}
	if _, ok := req.Input["origin_task_id"]; !ok {
		req.Input["origin_task_id"] = origin
	}
	return req
}
