// ABOUTME: Manager wires the agent registry, admission gate, pollers, and reporter together
// ABOUTME: Run polls every agent type until cancelled, then drains in-flight tasks

package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/gate"
	"github.com/2389/mesh-manager/internal/task"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = time.Second

var (
	// ErrNoAgents is returned by New when the registry is empty.
	ErrNoAgents = errors.New("no agent types registered")

	// ErrNilRegistry is returned by New when Config.Registry is nil.
	ErrNilRegistry = errors.New("registry is required")

	// ErrNilQueue is returned by New when Config.Queue is nil.
	ErrNilQueue = errors.New("queue is required")

	// ErrAlreadyRunning is returned when Run is called on a running manager.
	ErrAlreadyRunning = errors.New("manager already running")

	// ErrDrainTimeout is returned by Run when in-flight tasks outlive the drain timeout.
	ErrDrainTimeout = errors.New("timed out draining in-flight tasks")
)

// Queue is the part of the remote queue contract the manager consumes.
type Queue interface {
	Poll(ctx context.Context, agentType string) (*task.Task, error)
	Submit(ctx context.Context, o *task.Outcome) error
	PushUpdate(ctx context.Context, taskID string, ev task.Event) error
}

// PollResult labels the outcome of one poll cycle.
type PollResult string

const (
	PollTask      PollResult = "task"
	PollIdle      PollResult = "idle"
	PollSaturated PollResult = "saturated"
	PollError     PollResult = "error"
)

// Metrics receives scheduling observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordPoll(agentType string, result PollResult)
	RecordTask(agentType string, status task.Status, latency time.Duration)
	RecordSubmitFailure(agentType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordPoll(string, PollResult)                 {}
func (nopMetrics) RecordTask(string, task.Status, time.Duration) {}
func (nopMetrics) RecordSubmitFailure(string)                    {}

// Config configures a Manager. Registry and Queue are required.
type Config struct {
	Registry     *agent.Registry
	Queue        Queue
	PollInterval time.Duration
	// DrainTimeout bounds how long Run waits for in-flight tasks after
	// cancellation. Zero waits indefinitely.
	DrainTimeout time.Duration
	Submit       SubmitPolicy
	Metrics      Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Manager polls the remote queue for every registered agent type and runs
// admitted tasks concurrently, bounded per type by the admission gate.
type Manager struct {
	regs         []agent.Registration
	gate         *gate.Gate
	queue        Queue
	reporter     *reporter
	metrics      Metrics
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
	drainTimeout time.Duration

	running  atomic.Bool
	inflight sync.WaitGroup
}

// New validates cfg, freezes the registry, and builds the gate from the
// registered capacities.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}
	if cfg.Queue == nil {
		return nil, ErrNilQueue
	}
	if cfg.Registry.Len() == 0 {
		return nil, ErrNoAgents
	}
	if cfg.PollInterval < 0 || cfg.DrainTimeout < 0 {
		return nil, fmt.Errorf("poll interval and drain timeout must not be negative")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Submit == (SubmitPolicy{}) {
		cfg.Submit = DefaultSubmitPolicy()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cfg.Registry.Freeze()
	g, err := gate.New(cfg.Registry.Capacities())
	if err != nil {
		return nil, fmt.Errorf("building gate: %w", err)
	}

	logger := cfg.Logger.With("component", "mesh")
	return &Manager{
		regs:         cfg.Registry.List(),
		gate:         g,
		queue:        cfg.Queue,
		reporter:     newReporter(cfg.Queue, cfg.Submit, cfg.Metrics, logger),
		metrics:      cfg.Metrics,
		logger:       logger,
		now:          cfg.Now,
		pollInterval: cfg.PollInterval,
		drainTimeout: cfg.DrainTimeout,
	}, nil
}

// Run polls until ctx is cancelled, then waits for in-flight tasks to finish
// and their outcomes to be reported.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.logger.Info("mesh manager starting",
		"agent_types", len(m.regs),
		"poll_interval", m.pollInterval,
	)

	var pollers sync.WaitGroup
	for _, reg := range m.regs {
		pollers.Add(1)
		go func() {
			defer pollers.Done()
			m.pollLoop(ctx, reg)
		}()
	}
	pollers.Wait()

	m.logger.Info("pollers stopped, draining in-flight tasks",
		"in_flight", m.gate.Snapshot().TotalInFlight(),
	)
	if err := m.drain(); err != nil {
		m.logger.Error("drain incomplete", "error", err, "in_flight", m.gate.Snapshot().TotalInFlight())
		return err
	}
	m.logger.Info("mesh manager stopped")
	return nil
}

func (m *Manager) drain() error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	if m.drainTimeout == 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrDrainTimeout
	}
}

// Status returns the current capacity and in-flight count of every agent type.
func (m *Manager) Status() gate.Snapshot {
	return m.gate.Snapshot()
}

// Registrations returns the frozen registrations, sorted by agent type.
func (m *Manager) Registrations() []agent.Registration {
	return append([]agent.Registration(nil), m.regs...)
}

// Running reports whether Run is active.
func (m *Manager) Running() bool {
	return m.running.Load()
}
