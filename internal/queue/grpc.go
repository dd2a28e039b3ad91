// ABOUTME: gRPC client for the remote task queue built on the JSON-codec TaskQueue service.
// ABOUTME: Maps gRPC status codes onto the same errors the HTTP transport returns.

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/mesh-manager/internal/task"
)

// GRPCClient talks to the queue over gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	rpc     TaskQueueClient
	token   string
	timeout time.Duration
	guard   *guard
	now     func() time.Time
}

// NewGRPCClient dials addr. Extra dial options are appended after the defaults,
// so tests can swap in a bufconn dialer.
func NewGRPCClient(addr string, opts Options, dialOpts ...grpc.DialOption) (*GRPCClient, error) {
	all := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, dialOpts...)

	conn, err := grpc.NewClient(addr, all...)
	if err != nil {
		return nil, fmt.Errorf("grpc connect %s: %w", addr, err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GRPCClient{
		conn:    conn,
		rpc:     NewTaskQueueClient(conn),
		token:   opts.Token,
		timeout: timeout,
		guard:   newGuard(addr, opts),
		now:     time.Now,
	}, nil
}

func (c *GRPCClient) call(ctx context.Context, breaker string, fn func(ctx context.Context) error) error {
	return c.guard.do(ctx, breaker, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if c.token != "" {
			callCtx = metadata.AppendToOutgoingContext(callCtx, "authorization", "Bearer "+c.token)
		}
		return fn(callCtx)
	})
}

// Poll asks for one task for agentType. A nil task means the queue is empty.
func (c *GRPCClient) Poll(ctx context.Context, agentType string) (*task.Task, error) {
	var resp *PollResponse
	err := c.call(ctx, PollBreaker(agentType), func(ctx context.Context) error {
		var err error
		resp, err = c.rpc.Poll(ctx, NewPollRequest(agentType))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	return resp.Task(agentType, c.now())
}

// Submit reports a task outcome.
func (c *GRPCClient) Submit(ctx context.Context, o *task.Outcome) error {
	err := c.call(ctx, noBreaker, func(ctx context.Context) error {
		_, err := c.rpc.Submit(ctx, EncodeOutcome(o))
		return err
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// PushUpdate sends one progress event for a running task.
func (c *GRPCClient) PushUpdate(ctx context.Context, taskID string, ev task.Event) error {
	err := c.call(ctx, BreakerUpdate, func(ctx context.Context) error {
		_, err := c.rpc.PushUpdate(ctx, EncodeEvent(taskID, ev))
		return err
	})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// CreateTask enqueues a task and returns its ID.
func (c *GRPCClient) CreateTask(ctx context.Context, req task.CreateRequest) (string, error) {
	var resp *CreateTaskResponse
	err := c.call(ctx, BreakerCreate, func(ctx context.Context) error {
		var err error
		resp, err = c.rpc.CreateTask(ctx, EncodeCreate(req))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("create: %w: missing task_id", ErrMalformedResponse)
	}
	return resp.TaskID, nil
}

// QueryTask fetches the queue's view of a task.
func (c *GRPCClient) QueryTask(ctx context.Context, taskID string) (*task.Record, error) {
	var resp *QueryTaskResponse
	err := c.call(ctx, BreakerQuery, func(ctx context.Context) error {
		var err error
		resp, err = c.rpc.QueryTask(ctx, &QueryTaskRequest{TaskID: taskID})
		return err
	})
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return resp.Record(), nil
}

// BreakerState reports the state of the named circuit breaker.
func (c *GRPCClient) BreakerState(name string) gobreaker.State {
	return c.guard.state(name)
}

// Close closes the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
