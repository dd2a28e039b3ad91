// ABOUTME: HTTP handlers: health, readiness, status, agent list, and direct invocation
// ABOUTME: Also holds FetchStatus for reading a running instance from the CLI

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/gate"
	"github.com/2389/mesh-manager/internal/mesh"
	"github.com/2389/mesh-manager/internal/task"
)

// maxMeshRequestBytes bounds the body of POST /mesh_request.
const maxMeshRequestBytes = 1 << 20

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	ServerID      string            `json:"server_id"`
	Running       bool              `json:"running"`
	Uptime        string            `json:"uptime"`
	TotalInFlight int               `json:"total_in_flight"`
	Agents        []gate.TypeStatus `json:"agents"`
}

// AgentInfoResponse describes one configured agent type.
type AgentInfoResponse struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	MaxConcurrency int            `json:"max_concurrency"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MeshRequest is the JSON body of POST /mesh_request.
type MeshRequest struct {
	AgentID      string         `json:"agent_id"`
	Input        map[string]any `json:"input"`
	APIKey       string         `json:"api_key,omitempty"`
	OriginTaskID string         `json:"origin_task_id,omitempty"`
}

// MeshResponse is the JSON body of a POST /mesh_request reply. Error is set
// only when the handler failed.
type MeshResponse struct {
	TaskID  string         `json:"task_id"`
	AgentID string         `json:"agent_id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Steps   []task.Event   `json:"steps,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports ready while the manager's pollers are running.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.manager.Running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("manager not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agent types)", g.registry.Len())
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := g.manager.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		ServerID:      g.serverID,
		Running:       g.manager.Running(),
		Uptime:        time.Since(g.startedAt).Round(time.Second).String(),
		TotalInFlight: snap.TotalInFlight(),
		Agents:        snap.Types,
	})
}

func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	configured := make(map[string]int, len(g.config.Agents))
	for i, a := range g.config.Agents {
		configured[a.ID] = i
	}

	regs := g.manager.Registrations()
	response := make([]AgentInfoResponse, 0, len(regs))
	for _, reg := range regs {
		info := AgentInfoResponse{ID: reg.ID, MaxConcurrency: reg.MaxConcurrency}
		if i, ok := configured[reg.ID]; ok {
			a := g.config.Agents[i]
			info.Kind = a.Kind
			info.Description = a.Description
			info.Metadata = a.Metadata
		}
		response = append(response, info)
	}
	writeJSON(w, http.StatusOK, response)
}

// handleMeshRequest runs one request synchronously on a fresh handler. It
// competes for the same per-type slots as queued tasks and answers 429 when
// the type is saturated.
func (g *Gateway) handleMeshRequest(w http.ResponseWriter, r *http.Request) {
	var body MeshRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMeshRequestBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if body.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "agent_id is required"})
		return
	}

	req := agent.Request{
		TaskID:       "direct-" + uuid.NewString(),
		OriginTaskID: body.OriginTaskID,
		AgentType:    body.AgentID,
		Input:        body.Input,
		APIKey:       body.APIKey,
	}
	o, err := g.manager.Invoke(r.Context(), req)
	switch {
	case errors.Is(err, mesh.ErrUnknownAgentType):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("agent %s not found", body.AgentID)})
		return
	case errors.Is(err, mesh.ErrNoCapacity):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: fmt.Sprintf("agent %s is at capacity", body.AgentID)})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := MeshResponse{TaskID: o.TaskID, AgentID: o.AgentType, Steps: o.Events}
	if o.Status == task.StatusFailed {
		g.logger.Warn("direct invocation failed", "agent_type", o.AgentType, "task_id", o.TaskID, "error", o.Error)
		resp.Error = o.Error
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Result = o.Result
	writeJSON(w, http.StatusOK, resp)
}

// FetchStatus reads GET /status from a running instance at baseURL.
func FetchStatus(ctx context.Context, client *http.Client, baseURL string) (*StatusResponse, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching status: unexpected %s", resp.Status)
	}
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &status, nil
}
