// ABOUTME: Echo handler kind: sleeps a random delay, then returns the query
// ABOUTME: Used for load and wiring tests of the mesh

package builtins

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/2389/mesh-manager/internal/agent"
)

const (
	defaultEchoMinDelay = time.Second
	defaultEchoMaxDelay = 4 * time.Second
)

type echoHandler struct {
	minDelay time.Duration
	maxDelay time.Duration
}

func newEchoFactory(opts options) (agent.Factory, error) {
	minDelay, err := opts.dur("min_delay", defaultEchoMinDelay)
	if err != nil {
		return nil, err
	}
	maxDelay, err := opts.dur("max_delay", max(defaultEchoMaxDelay, minDelay))
	if err != nil {
		return nil, err
	}
	if minDelay < 0 || maxDelay < minDelay {
		return nil, fmt.Errorf("echo: need 0 <= min_delay <= max_delay, got %s and %s", minDelay, maxDelay)
	}
	return func() (agent.Handler, error) {
		return &echoHandler{minDelay: minDelay, maxDelay: maxDelay}, nil
	}, nil
}

func (h *echoHandler) delay() time.Duration {
	return h.minDelay + rand.N(h.maxDelay-h.minDelay+1)
}

func (h *echoHandler) Handle(ctx context.Context, req agent.Request, _ agent.Progress) (map[string]any, error) {
	timer := time.NewTimer(h.delay())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"response": req.Query()}, nil
}

func (h *echoHandler) Close(context.Context) error { return nil }
