// ABOUTME: JSON message shapes exchanged with the remote task queue over HTTP and gRPC.
// ABOUTME: Converts between wire messages and the task package's domain types.

package queue

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/2389/mesh-manager/internal/task"
)

// AgentKind is the agent_type value the queue protocol expects for agents.
const AgentKind = "AGENT"

// Submit statuses returned by the queue.
const (
	SubmitAccepted  = "accepted"
	SubmitDuplicate = "duplicate"
)

// AgentInfo identifies the agent type a poll is for.
type AgentInfo struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// PollRequest asks for one task for the listed agent.
type PollRequest struct {
	AgentInfo []AgentInfo `json:"agent_info"`
}

// AgentID returns the first agent ID in the request, or "".
func (r *PollRequest) AgentID() string {
	if len(r.AgentInfo) == 0 {
		return ""
	}
	return r.AgentInfo[0].AgentID
}

// PollResponse is empty ({}) when no task is waiting.
type PollResponse struct {
	TaskID       string         `json:"task_id,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	Input        map[string]any `json:"input,omitzero"` // {} is a valid payload and stays on the wire
	OriginTaskID string         `json:"origin_task_id,omitempty"`
	APIKey       string         `json:"api_key,omitempty"`
	LegacyAPIKey string         `json:"heurist_api_key,omitempty"`
}

// Step is a reasoning step as it appears on the wire.
type Step struct {
	Seq       int       `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// SubmitRequest carries a task's final result.
type SubmitRequest struct {
	TaskID           string         `json:"task_id"`
	AgentID          string         `json:"agent_id"`
	AgentType        string         `json:"agent_type"`
	Results          map[string]any `json:"results"`
	InferenceLatency float64        `json:"inference_latency"`
	ReasoningSteps   []Step         `json:"reasoning_steps,omitempty"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	Status string `json:"status"`
}

// UpdateRequest pushes one progress step for a running task.
type UpdateRequest struct {
	TaskID    string    `json:"task_id"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// UpdateResponse acknowledges an update.
type UpdateResponse struct {
	Status string `json:"status"`
}

// CreateTaskRequest enqueues a task for an agent.
type CreateTaskRequest struct {
	AgentID      string         `json:"agent_id"`
	AgentType    string         `json:"agent_type"`
	TaskDetails  map[string]any `json:"task_details"`
	APIKey       string         `json:"api_key,omitempty"`
	OriginTaskID string         `json:"origin_task_id,omitempty"`
}

// CreateTaskResponse returns the new task's ID.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// QueryTaskRequest looks up a task.
type QueryTaskRequest struct {
	TaskID string `json:"task_id"`
}

// QueryTaskResponse is the queue's view of a task.
type QueryTaskResponse struct {
	TaskID           string         `json:"task_id"`
	AgentID          string         `json:"agent_id,omitempty"`
	Status           string         `json:"status"`
	ReasoningSteps   []Step         `json:"reasoning_steps"`
	Result           map[string]any `json:"result,omitempty"`
	Message          string         `json:"message,omitempty"`
	OriginTaskID     string         `json:"origin_task_id,omitempty"`
	InferenceLatency float64        `json:"inference_latency,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitzero"`
	UpdatedAt        time.Time      `json:"updated_at,omitzero"`
}

// ErrorResponse is the body of a non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewPollRequest builds the poll body for one agent type.
func NewPollRequest(agentType string) *PollRequest {
	return &PollRequest{AgentInfo: []AgentInfo{{AgentID: agentType, AgentType: AgentKind}}}
}

// Task converts a poll response into a task, or nil when no task was offered.
// A task_id alone is an offer; a missing input becomes an empty payload.
func (r *PollResponse) Task(agentType string, receivedAt time.Time) (*task.Task, error) {
	if r == nil || (r.TaskID == "" && r.Input == nil) {
		return nil, nil
	}
	if r.TaskID == "" {
		return nil, fmt.Errorf("%w: poll response has input but no task_id", ErrMalformedResponse)
	}
	input := r.Input
	if input == nil {
		input = map[string]any{}
	}
	apiKey := r.APIKey
	if apiKey == "" {
		apiKey = r.LegacyAPIKey
	}
	return &task.Task{
		ID:           r.TaskID,
		AgentType:    agentType,
		Payload:      input,
		OriginTaskID: r.OriginTaskID,
		APIKey:       apiKey,
		ReceivedAt:   receivedAt,
	}, nil
}

// EncodeTask builds the poll response offering t.
func EncodeTask(t *task.Task) *PollResponse {
	if t == nil {
		return &PollResponse{}
	}
	input := maps.Clone(t.Payload)
	if input == nil {
		input = map[string]any{}
	}
	return &PollResponse{
		TaskID:       t.ID,
		AgentID:      t.AgentType,
		Input:        input,
		OriginTaskID: t.OriginTaskID,
		APIKey:       t.APIKey,
	}
}

// EncodeOutcome builds the submit body. Results carry success "true" merged
// with the result payload, or success "false" with an error description.
func EncodeOutcome(o *task.Outcome) *SubmitRequest {
	results := make(map[string]any, len(o.Result)+1)
	if o.Status == task.StatusFinished {
		maps.Copy(results, o.Result)
		results["success"] = "true"
	} else {
		results["success"] = "false"
		results["error"] = o.Error
	}
	return &SubmitRequest{
		TaskID:           o.TaskID,
		AgentID:          o.AgentType,
		AgentType:        AgentKind,
		Results:          results,
		InferenceLatency: Seconds(o.Latency),
		ReasoningSteps:   EncodeEvents(o.Events),
	}
}

// Outcome decodes a submit body.
func (r *SubmitRequest) Outcome() (*task.Outcome, error) {
	if r.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrMalformedRequest)
	}
	o := &task.Outcome{
		TaskID:    r.TaskID,
		AgentType: r.AgentID,
		Events:    DecodeSteps(r.ReasoningSteps),
		Latency:   time.Duration(r.InferenceLatency * float64(time.Second)),
	}
	if isTrue(r.Results["success"]) {
		o.Status = task.StatusFinished
		o.Result = maps.Clone(r.Results)
		delete(o.Result, "success")
		return o, nil
	}
	o.Status = task.StatusFailed
	o.Error, _ = r.Results["error"].(string)
	if o.Error == "" {
		o.Error = "unknown error"
	}
	return o, nil
}

func isTrue(v any) bool {
	switch b := v.(type) {
	case string:
		return b == "true"
	case bool:
		return b
	default:
		return false
	}
}

// EncodeEvent builds the update body for one event.
func EncodeEvent(taskID string, ev task.Event) *UpdateRequest {
	return &UpdateRequest{TaskID: taskID, Content: ev.Content, Seq: ev.Seq, Timestamp: ev.Timestamp}
}

// Event decodes an update body. A zero timestamp is replaced with now.
func (r *UpdateRequest) Event(now time.Time) task.Event {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return task.Event{Seq: r.Seq, Timestamp: ts, Content: r.Content}
}

// EncodeEvents converts events to wire steps.
func EncodeEvents(events []task.Event) []Step {
	if len(events) == 0 {
		return nil
	}
	steps := make([]Step, len(events))
	for i, ev := range events {
		steps[i] = Step{Seq: ev.Seq, Timestamp: ev.Timestamp, Content: ev.Content}
	}
	return steps
}

// DecodeSteps converts wire steps to events.
func DecodeSteps(steps []Step) []task.Event {
	if len(steps) == 0 {
		return nil
	}
	events := make([]task.Event, len(steps))
	for i, s := range steps {
		events[i] = task.Event{Seq: s.Seq, Timestamp: s.Timestamp, Content: s.Content}
	}
	return events
}

// EncodeCreate builds the create body. origin_task_id is mirrored into the
// task details so the child handler sees it in its input.
func EncodeCreate(req task.CreateRequest) *CreateTaskRequest {
	details := maps.Clone(req.Payload)
	if details == nil {
		details = map[string]any{}
	}
	origin := req.OriginTaskID
	if origin == "" {
		origin, _ = details["origin_task_id"].(string)
	}
	if origin != "" {
		details["origin_task_id"] = origin
	}
	return &CreateTaskRequest{
		AgentID:      req.AgentType,
		AgentType:    AgentKind,
		TaskDetails:  details,
		APIKey:       req.APIKey,
		OriginTaskID: origin,
	}
}

// CreateRequest decodes a create body.
func (r *CreateTaskRequest) CreateRequest() (task.CreateRequest, error) {
	if r.AgentID == "" {
		return task.CreateRequest{}, fmt.Errorf("%w: agent_id is required", ErrMalformedRequest)
	}
	origin := r.OriginTaskID
	if origin == "" {
		origin, _ = r.TaskDetails["origin_task_id"].(string)
	}
	return task.CreateRequest{
		AgentType:    r.AgentID,
		Payload:      maps.Clone(r.TaskDetails),
		APIKey:       r.APIKey,
		OriginTaskID: origin,
	}, nil
}

// EncodeRecord builds the query response for a record.
func EncodeRecord(rec *task.Record) *QueryTaskResponse {
	steps := EncodeEvents(rec.Events)
	if steps == nil {
		steps = []Step{}
	}
	return &QueryTaskResponse{
		TaskID:           rec.ID,
		AgentID:          rec.AgentType,
		Status:           string(rec.Status),
		ReasoningSteps:   steps,
		Result:           maps.Clone(rec.Result),
		Message:          rec.Error,
		OriginTaskID:     rec.OriginTaskID,
		InferenceLatency: Seconds(rec.Latency),
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

// Record decodes a query response.
func (r *QueryTaskResponse) Record() *task.Record {
	return &task.Record{
		ID:           r.TaskID,
		AgentType:    r.AgentID,
		Status:       task.Status(r.Status),
		Result:       r.Result,
		Error:        r.Message,
		Events:       DecodeSteps(r.ReasoningSteps),
		OriginTaskID: r.OriginTaskID,
		Latency:      time.Duration(r.InferenceLatency * float64(time.Second)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Seconds renders a latency as seconds rounded to the millisecond.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
