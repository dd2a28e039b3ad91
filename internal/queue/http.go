// ABOUTME: HTTP/JSON client for the remote task queue protocol.
// ABOUTME: Each operation is a POST to a fixed path guarded by the rate limiter and breaker.

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/2389/mesh-manager/internal/task"
)

// HTTP paths of the queue protocol.
const (
	PathPoll   = "/mesh_manager_poll"
	PathSubmit = "/mesh_manager_submit"
	PathUpdate = "/mesh_task_update"
	PathCreate = "/mesh_task_create"
	PathQuery  = "/mesh_task_query"
	PathEvents = "/mesh_task_events"
)

const maxErrorBody = 4096

// HTTPClient talks to the queue over HTTP.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	guard   *guard
	now     func() time.Time
}

// NewHTTPClient creates a client for the queue at baseURL.
func NewHTTPClient(baseURL string, opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
		guard:   newGuard(baseURL, opts),
		now:     time.Now,
	}
}

// Poll asks for one task for agentType. A nil task means the queue is empty.
func (c *HTTPClient) Poll(ctx context.Context, agentType string) (*task.Task, error) {
	var resp PollResponse
	if err := c.post(ctx, "poll", PollBreaker(agentType), PathPoll, NewPollRequest(agentType), &resp); err != nil {
		return nil, err
	}
	return resp.Task(agentType, c.now())
}

// Submit reports a task outcome.
func (c *HTTPClient) Submit(ctx context.Context, o *task.Outcome) error {
	var resp SubmitResponse
	return c.post(ctx, "submit", noBreaker, PathSubmit, EncodeOutcome(o), &resp)
}

// PushUpdate sends one progress event for a running task.
func (c *HTTPClient) PushUpdate(ctx context.Context, taskID string, ev task.Event) error {
	var resp UpdateResponse
	return c.post(ctx, "update", BreakerUpdate, PathUpdate, EncodeEvent(taskID, ev), &resp)
}

// CreateTask enqueues a task and returns its ID.
func (c *HTTPClient) CreateTask(ctx context.Context, req task.CreateRequest) (string, error) {
	var resp CreateTaskResponse
	if err := c.post(ctx, "create", BreakerCreate, PathCreate, EncodeCreate(req), &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("create: %w: missing task_id", ErrMalformedResponse)
	}
	return resp.TaskID, nil
}

// QueryTask fetches the queue's view of a task.
func (c *HTTPClient) QueryTask(ctx context.Context, taskID string) (*task.Record, error) {
	var resp QueryTaskResponse
	err := c.post(ctx, "query", BreakerQuery, PathQuery, &QueryTaskRequest{TaskID: taskID}, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	return resp.Record(), nil
}

// BreakerState reports the state of the named circuit breaker.
func (c *HTTPClient) BreakerState(name string) gobreaker.State {
	return c.guard.state(name)
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, op, breaker, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}

	return c.guard.do(ctx, breaker, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s: building request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Op: op, Code: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: reading response: %w", op, err)
		}
		if len(bytes.TrimSpace(data)) == 0 || out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
		}
		return nil
	})
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var er ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(data))
}
