// ABOUTME: Store interface and errors for the development queue server's task persistence
// ABOUTME: Tasks move waiting -> running -> finished|failed|expired; events are ordered per task

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/mesh-manager/internal/task"
)

// ErrNotFound is returned when a requested task does not exist.
// It matches task.ErrTaskNotFound with errors.Is.
var ErrNotFound = task.ErrTaskNotFound

// ErrAlreadyCompleted is returned when a task is already in a terminal state.
var ErrAlreadyCompleted = errors.New("task already completed")

// ErrDuplicateTask is returned when creating a task whose ID exists.
var ErrDuplicateTask = errors.New("task already exists")

// ExpiredMessage is the error recorded on tasks the sweeper expires.
const ExpiredMessage = "task expired: no result received before the timeout"

// Completion is the final state written by CompleteTask.
type Completion struct {
	Status  task.Status // finished or failed
	Result  map[string]any
	Error   string
	Latency time.Duration
	Events  []task.Event // merged with already-stored events by seq
	At      time.Time
}

// Store persists queue tasks.
type Store interface {
	// CreateTask inserts rec as a waiting task. rec.ID must be set.
	CreateTask(ctx context.Context, rec *task.Record) error

	// ClaimNextTask atomically moves the oldest waiting task of agentType to
	// running and returns it. It returns nil, nil when none is waiting.
	ClaimNextTask(ctx context.Context, agentType string, now time.Time) (*task.Record, error)

	// GetTask returns the task with its events ordered by seq.
	GetTask(ctx context.Context, id string) (*task.Record, error)

	// AppendEvent stores ev. A zero Seq is assigned the next number. It
	// returns false when an event with the same seq already exists, and
	// ErrAlreadyCompleted when the task is terminal.
	AppendEvent(ctx context.Context, taskID string, ev task.Event) (bool, error)

	// CompleteTask records the final result. It returns ErrAlreadyCompleted
	// if the task is already terminal, leaving the first result in place.
	CompleteTask(ctx context.Context, id string, c Completion) error

	// ExpireRunning marks tasks running since before cutoff as expired and
	// returns their IDs.
	ExpireRunning(ctx context.Context, cutoff, now time.Time) ([]string, error)

	// CountByStatus returns the number of tasks in each status.
	CountByStatus(ctx context.Context) (map[task.Status]int, error)

	Close() error
}

// MemoryPath selects the in-process store in Open.
const MemoryPath = ":memory:"
