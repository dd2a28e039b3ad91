// ABOUTME: Task queue operations on top of a store: poll, submit, update, create, query
// ABOUTME: Duplicate submits are no-ops and updates for finished tasks are ignored

package queueserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mesh-manager/internal/dedupe"
	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/store"
	"github.com/2389/mesh-manager/internal/task"
)

// ErrMissingAgentType is returned when a task is created without an agent type.
var ErrMissingAgentType = errors.New("agent type is required")

// ErrMissingTaskID is returned when an operation names no task.
var ErrMissingTaskID = errors.New("task id is required")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store       store.Store
	Dedupe      *dedupe.Cache // optional
	Broadcaster *Broadcaster  // optional
	Logger      *slog.Logger
	Now         func() time.Time // defaults to time.Now
	NewID       func() string    // defaults to uuid.NewString
}

// Service implements the queue operations mesh managers call. It satisfies
// queue.Client so it can also be used in-process.
type Service struct {
	store       store.Store
	dedupe      *dedupe.Cache
	broadcaster *Broadcaster
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

var _ queue.Client = (*Service)(nil)

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		store:       cfg.Store,
		dedupe:      cfg.Dedupe,
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger.With("component", "queue-service"),
		now:         cfg.Now,
		newID:       cfg.NewID,
	}
}

func (s *Service) publish(ev TaskEvent) {
	if s.broadcaster != nil {
		s.broadcaster.Publish(ev)
	}
}

// Poll claims the oldest waiting task for agentType, or returns nil.
func (s *Service) Poll(ctx context.Context, agentType string) (*task.Task, error) {
	now := s.now()
	rec, err := s.store.ClaimNextTask(ctx, agentType, now)
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	s.logger.Info("task claimed", "task_id", rec.ID, "agent_type", agentType)
	s.publish(TaskEvent{Kind: EventStatus, TaskID: rec.ID, Status: task.StatusRunning})
	return rec.Task(now), nil
}

// Complete records an outcome and returns queue.SubmitAccepted, or
// queue.SubmitDuplicate when the task already has a result.
func (s *Service) Complete(ctx context.Context, o *task.Outcome) (string, error) {
	if o.TaskID == "" {
		return "", ErrMissingTaskID
	}
	if s.dedupe != nil && s.dedupe.Seen(o.TaskID) {
		s.logger.Debug("duplicate submit ignored", "task_id", o.TaskID)
		return queue.SubmitDuplicate, nil
	}

	err := s.store.CompleteTask(ctx, o.TaskID, store.Completion{
		Status:  o.Status,
		Result:  o.Result,
		Error:   o.Error,
		Latency: o.Latency,
		Events:  o.Events,
		At:      s.now(),
	})
	if errors.Is(err, store.ErrAlreadyCompleted) {
		s.markDone(o.TaskID)
		s.logger.Debug("submit for completed task ignored", "task_id", o.TaskID)
		return queue.SubmitDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("completing task: %w", err)
	}
	s.markDone(o.TaskID)

	s.logger.Info("task completed",
		"task_id", o.TaskID,
		"agent_type", o.AgentType,
		"status", o.Status,
		"latency", o.Latency,
		"steps", len(o.Events))
	s.publish(TaskEvent{Kind: EventStatus, TaskID: o.TaskID, Status: o.Status, Error: o.Error})
	return queue.SubmitAccepted, nil
}

// markDone remembers a task whose result is stored. Concurrent duplicates
// that miss the cache fall through to the store's own terminal check.
func (s *Service) markDone(taskID string) {
	if s.dedupe != nil {
		s.dedupe.Mark(taskID)
	}
}

// Submit records an outcome. Duplicate submissions succeed without effect.
func (s *Service) Submit(ctx context.Context, o *task.Outcome) error {
	_, err := s.Complete(ctx, o)
	return err
}

// PushUpdate stores a progress step. Steps for terminal tasks are dropped.
func (s *Service) PushUpdate(ctx context.Context, taskID string, ev task.Event) error {
	if taskID == "" {
		return ErrMissingTaskID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	added, err := s.store.AppendEvent(ctx, taskID, ev)
	if errors.Is(err, store.ErrAlreadyCompleted) {
		s.logger.Debug("late update ignored", "task_id", taskID, "seq", ev.Seq)
		return nil
	}
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if added {
		s.publish(TaskEvent{Kind: EventStep, TaskID: taskID, Step: &ev})
	}
	return nil
}

// CreateTask enqueues a waiting task and returns its ID.
func (s *Service) CreateTask(ctx context.Context, req task.CreateRequest) (string, error) {
	if req.AgentType == "" {
		return "", ErrMissingAgentType
	}
	rec := &task.Record{
		ID:           s.newID(),
		AgentType:    req.AgentType,
		Payload:      req.Payload,
		OriginTaskID: req.OriginTaskID,
		APIKey:       req.APIKey,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateTask(ctx, rec); err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}

	s.logger.Info("task created",
		"task_id", rec.ID,
		"agent_type", rec.AgentType,
		"origin_task_id", rec.OriginTaskID)
	return rec.ID, nil
}

// QueryTask returns the task's current state.
func (s *Service) QueryTask(ctx context.Context, taskID string) (*task.Record, error) {
	if taskID == "" {
		return nil, ErrMissingTaskID
	}
	rec, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Subscribe streams events for taskID until ctx ends. It fails with
// task.ErrTaskNotFound for unknown tasks.
func (s *Service) Subscribe(ctx context.Context, taskID string) (<-chan TaskEvent, error) {
	if s.broadcaster == nil {
		return nil, errors.New("live events are disabled")
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	ch, _ := s.broadcaster.Subscribe(ctx, taskID)
	return ch, nil
}

// ExpireOverdue expires tasks that have been running longer than timeout.
func (s *Service) ExpireOverdue(ctx context.Context, timeout time.Duration) ([]string, error) {
	now := s.now()
	ids, err := s.store.ExpireRunning(ctx, now.Add(-timeout), now)
	if err != nil {
		return nil, fmt.Errorf("expiring tasks: %w", err)
	}
	for _, id := range ids {
		s.publish(TaskEvent{Kind: EventStatus, TaskID: id, Status: task.StatusExpired, Error: store.ExpiredMessage})
	}
	if len(ids) > 0 {
		s.logger.Warn("expired overdue tasks", "count", len(ids), "timeout", timeout)
	}
	return ids, nil
}

// Counts returns task counts per status.
func (s *Service) Counts(ctx context.Context) (map[task.Status]int, error) {
	return s.store.CountByStatus(ctx)
}

// Close is a no-op; the store, cache, and broadcaster are owned by the caller.
func (s *Service) Close() error { return nil }
