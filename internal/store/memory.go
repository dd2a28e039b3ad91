// ABOUTME: In-memory Store implementation for tests and ephemeral queue servers
// ABOUTME: Same semantics as SQLiteStore without persistence across restarts

package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/2389/mesh-manager/internal/task"
)

type memTask struct {
	rec       *task.Record
	claimedAt time.Time
	order     uint64
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*memTask
	next  uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*memTask)}
}

// CreateTask inserts a waiting task.
func (m *MemoryStore) CreateTask(_ context.Context, rec *task.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[rec.ID]; exists {
		return ErrDuplicateTask
	}

	// Make a copy to avoid external modification
	c := rec.Clone()
	c.Status = task.StatusWaiting
	c.UpdatedAt = c.CreatedAt
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
	m.next++
	m.tasks[rec.ID] = &memTask{rec: c, order: m.next}
	return nil
}

// ClaimNextTask moves the oldest waiting task of agentType to running.
func (m *MemoryStore) ClaimNextTask(_ context.Context, agentType string, now time.Time) (*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *memTask
	for _, t := range m.tasks {
		if t.rec.AgentType != agentType || t.rec.Status != task.StatusWaiting {
			continue
		}
		if oldest == nil || t.order < oldest.order {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.rec.Status = task.StatusRunning
	oldest.rec.UpdatedAt = now
	oldest.claimedAt = now
	return oldest.rec.Clone(), nil
}

// GetTask returns a copy of the task.
func (m *MemoryStore) GetTask(_ context.Context, id string) (*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.rec.Clone(), nil
}

func (t *memTask) addEvent(ev task.Event) bool {
	if ev.Seq == 0 {
		ev.Seq = 1
		if n := len(t.rec.Events); n > 0 {
			ev.Seq = t.rec.Events[n-1].Seq + 1
		}
	}
	for _, existing := range t.rec.Events {
		if existing.Seq == ev.Seq {
			return false
		}
	}
	t.rec.Events = append(t.rec.Events, ev)
	sort.SliceStable(t.rec.Events, func(i, j int) bool { return t.rec.Events[i].Seq < t.rec.Events[j].Seq })
	return true
}

// AppendEvent stores one progress event for a non-terminal task.
func (m *MemoryStore) AppendEvent(_ context.Context, taskID string, ev task.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if t.rec.Status.Terminal() {
		return false, ErrAlreadyCompleted
	}
	added := t.addEvent(ev)
	t.rec.UpdatedAt = time.Now()
	return added, nil
}

// CompleteTask records a task's final result exactly once.
func (m *MemoryStore) CompleteTask(_ context.Context, id string, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.rec.Status.Terminal() {
		return ErrAlreadyCompleted
	}

	for _, ev := range c.Events {
		t.addEvent(ev)
	}
	t.rec.Status = c.Status
	t.rec.Error = c.Error
	t.rec.Latency = c.Latency.Truncate(time.Millisecond)
	t.rec.UpdatedAt = c.At
	if c.Status == task.StatusFinished {
		t.rec.Result = maps.Clone(c.Result)
		if t.rec.Result == nil {
			t.rec.Result = map[string]any{}
		}
	}
	return nil
}

// ExpireRunning expires tasks claimed before cutoff.
func (m *MemoryStore) ExpireRunning(_ context.Context, cutoff, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, t := range m.tasks {
		if t.rec.Status == task.StatusRunning && t.claimedAt.Before(cutoff) {
			t.rec.Status = task.StatusExpired
			t.rec.Error = ExpiredMessage
			t.rec.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountByStatus returns task counts per status.
func (m *MemoryStore) CountByStatus(context.Context) (map[task.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[task.Status]int)
	for _, t := range m.tasks {
		counts[t.rec.Status]++
	}
	return counts, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
