// ABOUTME: Task, outcome, and progress event types shared by the manager and the queue.
// ABOUTME: Task is what the poller receives; Outcome is what the reporter submits.

package task

import (
	"errors"
	"maps"
	"time"
)

// ErrTaskNotFound is returned when a task ID is unknown to the queue.
var ErrTaskNotFound = errors.New("task not found")

// Status is the lifecycle state of a task as seen by the remote queue.
type Status string

// Task statuses. An Outcome only ever carries StatusFinished or StatusFailed.
const (
	StatusWaiting  Status = "waiting"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further result can be accepted for the task.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Task is one unit of work received from the remote queue.
type Task struct {
	ID           string
	AgentType    string
	Payload      map[string]any
	OriginTaskID string // root of a chain of nested agent calls; empty for top-level tasks
	APIKey       string // caller credential forwarded to the handler
	ReceivedAt   time.Time
}

// Event is a single progress or reasoning step emitted while a task runs.
// Seq starts at 1 and is strictly increasing within a task.
type Event struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// Outcome is the final result of executing a task.
type Outcome struct {
	TaskID    string
	AgentType string
	Status    Status
	Result    map[string]any
	Error     string
	Events    []Event
	Latency   time.Duration
}

// Finished builds a successful outcome.
func Finished(t *Task, result map[string]any, events []Event, latency time.Duration) *Outcome {
	return &Outcome{
		TaskID:    t.ID,
		AgentType: t.AgentType,
		Status:    StatusFinished,
		Result:    result,
		Events:    events,
		Latency:   latency,
	}
}

// Failed builds a failed outcome carrying a human-readable error description.
func Failed(t *Task, err error, events []Event, latency time.Duration) *Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Outcome{
		TaskID:    t.ID,
		AgentType: t.AgentType,
		Status:    StatusFailed,
		Error:     msg,
		Events:    events,
		Latency:   latency,
	}
}

// CreateRequest asks the queue to enqueue a new task for an agent type.
type CreateRequest struct {
	AgentType    string
	Payload      map[string]any
	APIKey       string
	OriginTaskID string
}

// Record is the queue's view of a task, returned by query-task.
type Record struct {
	ID           string
	AgentType    string
	Status       Status
	Payload      map[string]any
	Result       map[string]any
	Error        string
	Events       []Event
	OriginTaskID string
	APIKey       string
	Latency      time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Task converts a claimed record into the Task handed to a poller.
func (r *Record) Task(receivedAt time.Time) *Task {
	return &Task{
		ID:           r.ID,
		AgentType:    r.AgentType,
		Payload:      maps.Clone(r.Payload),
		OriginTaskID: r.OriginTaskID,
		APIKey:       r.APIKey,
		ReceivedAt:   receivedAt,
	}
}

// Clone returns a deep-enough copy for handing records across goroutines.
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = maps.Clone(r.Payload)
	c.Result = maps.Clone(r.Result)
	c.Events = append([]Event(nil), r.Events...)
	return &c
}
