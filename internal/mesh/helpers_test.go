// ABOUTME: Shared fixtures for manager tests: an in-process queue and a metrics recorder
// ABOUTME: The queue is the real queue service over a memory store

package mesh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/queueserver"
	"github.com/2389/mesh-manager/internal/store"
	"github.com/2389/mesh-manager/internal/task"
)

const testPollInterval = 10 * time.Millisecond

func newTestQueue() *queueserver.Service {
	return queueserver.NewService(queueserver.ServiceConfig{Store: store.NewMemoryStore()})
}

type recordingMetrics struct {
	mu             sync.Mutex
	polls          map[PollResult]int
	tasks          map[task.Status]int
	submitFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{polls: map[PollResult]int{}, tasks: map[task.Status]int{}}
}

func (r *recordingMetrics) RecordPoll(_ string, result PollResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[result]++
}

func (r *recordingMetrics) RecordTask(_ string, status task.Status, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[status]++
}

func (r *recordingMetrics) RecordSubmitFailure(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitFailures++
}

func (r *recordingMetrics) pollCount(result PollResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[result]
}

// concurrency tracks the current and peak number of running handlers.
type concurrency struct {
	cur  atomic.Int64
	peak atomic.Int64
}

func (c *concurrency) enter() {
	n := c.cur.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (c *concurrency) exit() { c.cur.Add(-1) }

// blockingFactory returns handlers that report their task on started and
// block until release is closed.
func blockingFactory(started chan<- string, release <-chan struct{}) agent.Factory {
	return agent.StaticFactory(func(ctx context.Context, req agent.Request, _ agent.Progress) (map[string]any, error) {
		started <- req.TaskID
		<-release
		return map[string]any{"response": req.Query()}, nil
	})
}

func echoFactory(delay time.Duration, c *concurrency) agent.Factory {
	return agent.StaticFactory(func(ctx context.Context, req agent.Request, _ agent.Progress) (map[string]any, error) {
		if c != nil {
			c.enter()
			defer c.exit()
		}
		time.Sleep(delay)
		return map[string]any{"response": req.Query()}, nil
	})
}

func failingFactory() agent.Factory {
	return func() (agent.Handler, error) {
		return nil, errors.New("missing api_key")
	}
}

type registration struct {
	id      string
	factory agent.Factory
	max     int
}

func newRegistry(t *testing.T, regs ...registration) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry(nil)
	for _, reg := range regs {
		require.NoError(t, r.Register(reg.id, reg.factory, reg.max))
	}
	return r
}

type runningManager struct {
	*Manager
	cancel context.CancelFunc
	done   chan error
}

// startManager runs a manager in the background and stops it at cleanup.
func startManager(t *testing.T, cfg Config) *runningManager {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = testPollInterval
	}
	if cfg.Submit == (SubmitPolicy{}) {
		cfg.Submit = SubmitPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	}
	m, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rm := &runningManager{Manager: m, cancel: cancel, done: make(chan error, 1)}
	go func() { rm.done <- m.Run(ctx) }()
	require.Eventually(t, m.Running, time.Second, time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-rm.done:
		case <-time.After(5 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return rm
}

func createTask(t *testing.T, q *queueserver.Service, agentType, query string) string {
	t.Helper()
	id, err := q.CreateTask(context.Background(), task.CreateRequest{
		AgentType: agentType,
		Payload:   map[string]any{"query": query},
	})
	require.NoError(t, err)
	return id
}

func queryTask(t *testing.T, q *queueserver.Service, id string) *task.Record {
	t.Helper()
	rec, err := q.QueryTask(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func waitForStatus(t *testing.T, q *queueserver.Service, id string, want task.Status) *task.Record {
	t.Helper()
	var rec *task.Record
	require.Eventually(t, func() bool {
		rec = queryTask(t, q, id)
		return rec.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return rec
}

func inFlight(m *Manager, agentType string) int {
	ts, _ := m.Status().Get(agentType)
	return ts.InFlight
}
