// ABOUTME: Cron-scheduled expiry of running tasks whose result never arrived
// ABOUTME: Backstop for managers that crash or lose tasks mid-execution

package queueserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically expires overdue running tasks.
type Sweeper struct {
	svc     *Service
	timeout time.Duration
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSweeper schedules expiry on spec, a standard cron expression or a
// descriptor such as "@every 1m".
func NewSweeper(svc *Service, spec string, timeout time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", spec, err)
	}

	s := &Sweeper{
		svc:     svc,
		timeout: timeout,
		cron:    cron.New(),
		logger:  logger.With("component", "sweeper"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(s.ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}))
	return s, nil
}

// Sweep runs one expiry pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	return s.svc.ExpireOverdue(ctx, s.timeout)
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("sweeper started", "task_timeout", s.timeout)
}

// Stop halts scheduled sweeps and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("sweeper stopped")
}
