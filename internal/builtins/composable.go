// ABOUTME: Composable echo kind: delegates to another agent type through the mesh
// ABOUTME: Propagates origin task and caller key, relays sub-task steps as progress

package builtins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/task"
)

// ErrSubtaskTimeout is returned when a delegated task is still unfinished
// after the configured number of checks.
var ErrSubtaskTimeout = errors.New("subtask did not finish in time")

// ErrSubtaskFailed is returned when a delegated task ends failed or expired.
var ErrSubtaskFailed = errors.New("subtask failed")

// MeshClient creates and inspects tasks on the remote queue.
type MeshClient interface {
	CreateTask(ctx context.Context, req task.CreateRequest) (string, error)
	QueryTask(ctx context.Context, taskID string) (*task.Record, error)
}

type composableHandler struct {
	mesh         MeshClient
	target       string
	prefix       string
	pollInterval time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

func newComposableFactory(opts options, mesh MeshClient, logger *slog.Logger) (agent.Factory, error) {
	if mesh == nil {
		return nil, errors.New("composable_echo: no mesh client available")
	}
	if logger == nil {
		logger = slog.Default()
	}
	target, err := opts.str("target", "EchoAgent")
	if err != nil {
		return nil, err
	}
	prefix, err := opts.str("prefix", "COMPOSABLE: ")
	if err != nil {
		return nil, err
	}
	interval, err := opts.dur("poll_interval", time.Second)
	if err != nil {
		return nil, err
	}
	attempts, err := opts.integer("max_attempts", 30)
	if err != nil {
		return nil, err
	}
	if interval <= 0 || attempts <= 0 {
		return nil, fmt.Errorf("composable_echo: poll_interval and max_attempts must be positive")
	}
	return func() (agent.Handler, error) {
		return &composableHandler{
			mesh:         mesh,
			target:       target,
			prefix:       prefix,
			pollInterval: interval,
			maxAttempts:  attempts,
			logger:       logger,
		}, nil
	}, nil
}

func (h *composableHandler) Handle(ctx context.Context, req agent.Request, progress agent.Progress) (map[string]any, error) {
	subID, err := h.mesh.CreateTask(ctx, task.CreateRequest{
		AgentType:    h.target,
		Payload:      map[string]any{"query": req.Query(), "origin_task_id": req.OriginTaskID},
		APIKey:       req.APIKey,
		OriginTaskID: req.OriginTaskID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s task: %w", h.target, err)
	}
	progress.Emit(ctx, fmt.Sprintf("delegated to %s as task %s", h.target, subID))

	rec, err := h.await(ctx, subID, progress)
	if err != nil {
		return nil, err
	}
	echoed, _ := rec.Result["response"].(string)
	return map[string]any{"response": h.prefix + echoed}, nil
}

// await checks the subtask until it is terminal, relaying steps it has not
// relayed before.
func (h *composableHandler) await(ctx context.Context, subID string, progress agent.Progress) (*task.Record, error) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	relayed := 0
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		rec, err := h.mesh.QueryTask(ctx, subID)
		switch {
		case err != nil:
			h.logger.Warn("querying subtask failed", "subtask_id", subID, "attempt", attempt, "error", err)
		default:
			for _, ev := range rec.Events[min(relayed, len(rec.Events)):] {
				progress.Emit(ctx, fmt.Sprintf("%s: %s", h.target, ev.Content))
			}
			relayed = max(relayed, len(rec.Events))

			switch rec.Status {
			case task.StatusFinished:
				return rec, nil
			case task.StatusFailed, task.StatusExpired:
				return nil, fmt.Errorf("%w: %s task %s is %s: %s", ErrSubtaskFailed, h.target, subID, rec.Status, rec.Error)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, fmt.Errorf("%w: %s task %s after %d checks", ErrSubtaskTimeout, h.target, subID, h.maxAttempts)
}

func (h *composableHandler) Close(context.Context) error { return nil }
