// ABOUTME: Contract between the mesh manager and agent handler implementations.
// ABOUTME: Handlers are built fresh per task by a Factory and report progress through Progress.

package agent

import (
	"context"
	"maps"
)

// Request is the input handed to a handler for one task.
type Request struct {
	TaskID       string
	OriginTaskID string
	AgentType    string
	Input        map[string]any
	APIKey       string
}

// Query returns the conventional "query" field of the input, or "".
func (r Request) Query() string {
	q, _ := r.Input["query"].(string)
	return q
}

// WithInput returns a copy of the request with an independent input map.
func (r Request) WithInput(input map[string]any) Request {
	r.Input = maps.Clone(input)
	return r
}

// Progress receives intermediate steps while a handler runs. Emit must be
// called from the handler's goroutine or otherwise serialized by the caller
// for ordering to be meaningful.
type Progress interface {
	Emit(ctx context.Context, content string)
}

// NopProgress discards every event.
type NopProgress struct{}

// Emit implements Progress.
func (NopProgress) Emit(context.Context, string) {}

// ProgressFunc adapts a function to the Progress interface.
type ProgressFunc func(ctx context.Context, content string)

// Emit implements Progress.
func (f ProgressFunc) Emit(ctx context.Context, content string) { f(ctx, content) }

// Handler processes a single task. A handler instance serves exactly one task
// and is closed afterwards.
type Handler interface {
	// Handle performs the work and returns the result payload. Returning an
	// error marks the task failed with the error text as its description.
	Handle(ctx context.Context, req Request, progress Progress) (map[string]any, error)

	// Close releases anything the handler acquired. It is called once after
	// Handle returns, whether Handle succeeded, failed, or panicked.
	Close(ctx context.Context) error
}

// Factory builds a fresh Handler. An error fails only the task being started.
type Factory func() (Handler, error)

// HandlerFunc adapts a function to a Handler with a no-op Close.
type HandlerFunc func(ctx context.Context, req Request, progress Progress) (map[string]any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request, progress Progress) (map[string]any, error) {
	return f(ctx, req, progress)
}

// Close implements Handler.
func (HandlerFunc) Close(context.Context) error { return nil }

// StaticFactory returns a Factory that wraps fn in a new HandlerFunc per call.
func StaticFactory(fn HandlerFunc) Factory {
	return func() (Handler, error) { return fn, nil }
}
