// ABOUTME: HTTP/JSON handlers for the mesh queue protocol and the live task event stream
// ABOUTME: Paths match the ones mesh managers poll and submit to

package queueserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/task"
)

const maxRequestBody = 1 << 20

// HTTPHandler serves the queue protocol over HTTP.
type HTTPHandler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHTTPHandler creates an HTTPHandler.
func NewHTTPHandler(svc *Service, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{svc: svc, logger: logger.With("component", "queue-http")}
}

// RegisterRoutes adds the queue endpoints to mux, each wrapped by mw.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	if mw == nil {
		mw = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST "+queue.PathPoll, mw(http.HandlerFunc(h.handlePoll)))
	mux.Handle("POST "+queue.PathSubmit, mw(http.HandlerFunc(h.handleSubmit)))
	mux.Handle("POST "+queue.PathUpdate, mw(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("POST "+queue.PathCreate, mw(http.HandlerFunc(h.handleCreate)))
	mux.Handle("POST "+queue.PathQuery, mw(http.HandlerFunc(h.handleQuery)))
	mux.Handle("GET "+queue.PathEvents, mw(http.HandlerFunc(h.handleEvents)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, queue.ErrorResponse{Error: msg})
}

// fail maps a service error onto an HTTP status.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		h.writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, queue.ErrMalformedRequest),
		errors.Is(err, ErrMissingAgentType),
		errors.Is(err, ErrMissingTaskID):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", queue.ErrMalformedRequest, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrMalformedRequest, err)
	}
	return nil
}

// handlePoll handles POST /mesh_manager_poll.
func (h *HTTPHandler) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req queue.PollRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	agentType := req.AgentID()
	if agentType == "" {
		h.writeError(w, http.StatusBadRequest, "agent_info[0].agent_id is required")
		return
	}

	t, err := h.svc.Poll(r.Context(), agentType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.EncodeTask(t))
}

// handleSubmit handles POST /mesh_manager_submit.
func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req queue.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := req.Outcome()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status, err := h.svc.Complete(r.Context(), o)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.SubmitResponse{Status: status})
}

// handleUpdate handles POST /mesh_task_update.
func (h *HTTPHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req queue.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.svc.PushUpdate(r.Context(), req.TaskID, req.Event(h.svc.now())); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.UpdateResponse{Status: "ok"})
}

// handleCreate handles POST /mesh_task_create.
func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req queue.CreateTaskRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cr, err := req.CreateRequest()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := h.svc.CreateTask(r.Context(), cr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.CreateTaskResponse{TaskID: id})
}

// handleQuery handles POST /mesh_task_query.
func (h *HTTPHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queue.QueryTaskRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.svc.QueryTask(r.Context(), req.TaskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.EncodeRecord(rec))
}

// handleEvents handles GET /mesh_task_events?task_id=X as a Server-Sent
// Events stream. It sends a "snapshot" event, then "step" and "status"
// events, and ends once the task reaches a terminal status.
func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		h.writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, err := h.svc.Subscribe(ctx, taskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// Subscribed before the snapshot so nothing published in between is lost.
	rec, err := h.svc.QueryTask(ctx, taskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.writeSSEEvent(w, "snapshot", queue.EncodeRecord(rec))
	flusher.Flush()
	if rec.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.writeSSEEvent(w, ev.Kind, ev)
			flusher.Flush()
			if ev.Kind == EventStatus && ev.Status.Terminal() {
				return
			}
		}
	}
}

func (h *HTTPHandler) writeSSEEvent(w io.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
