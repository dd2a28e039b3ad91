// ABOUTME: Rate limiter and circuit breaker wrapped around every remote queue call.
// ABOUTME: Breakers are keyed per operation and per polled agent type; submits skip them.

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 10 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// Options configures either transport.
type Options struct {
	Token              string
	Timeout            time.Duration
	RateLimit          float64 // requests per second, 0 = unlimited
	RateBurst          int
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	Logger             *slog.Logger
}

// Breaker names. Polls get one breaker per agent type so one type's failures
// never block another; submits bypass the breakers entirely because a
// finished result is worth retrying through the reporter's backoff even right
// after an outage.
const (
	breakerPollPrefix = "poll:"
	BreakerUpdate     = "update"
	BreakerCreate     = "create"
	BreakerQuery      = "query"
	noBreaker         = ""
)

// PollBreaker returns the breaker name guarding polls for agentType.
func PollBreaker(agentType string) string {
	return breakerPollPrefix + agentType
}

type guard struct {
	limiter  *rate.Limiter
	prefix   string
	settings gobreaker.Settings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func newGuard(name string, opts Options) *guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &guard{
		prefix:   "queue:" + name + ":",
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = max(1, int(opts.RateLimit))
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := opts.BreakerOpenTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	g.settings = gobreaker.Settings{
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Rejections such as 404 or a bad request say nothing about queue health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	}
	return g
}

func (g *guard) breaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[name]
	if !ok {
		st := g.settings
		st.Name = g.prefix + name
		cb = gobreaker.NewCircuitBreaker[struct{}](st)
		g.breakers[name] = cb
	}
	return cb
}

// do runs fn behind the rate limiter and the named breaker. An empty name
// skips the breaker.
func (g *guard) do(ctx context.Context, name string, fn func() error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	if name == noBreaker {
		return fn()
	}
	_, err := g.breaker(name).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// state returns the named breaker's state. Breakers that have never been used
// are closed.
func (g *guard) state(name string) gobreaker.State {
	g.mu.Lock()
	cb, ok := g.breakers[name]
	g.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
