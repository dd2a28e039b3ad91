// ABOUTME: End-to-end tests running a Gateway against an in-process queue service
// ABOUTME: Exercises echo and composable agents, introspection, and direct invocation

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/config"
	"github.com/2389/mesh-manager/internal/queueserver"
	"github.com/2389/mesh-manager/internal/store"
	"github.com/2389/mesh-manager/internal/task"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Remote:  config.RemoteConfig{URL: "http://unused.invalid"},
		Manager: config.ManagerConfig{PollInterval: config.Duration(10 * time.Millisecond)},
		Agents: []config.AgentConfig{
			{
				ID: "EchoAgent", Kind: "echo", MaxConcurrency: 2,
				Description: "Returns the query",
				Metadata:    map[string]any{"version": "1.0"},
				Options:     map[string]any{"min_delay": "1ms", "max_delay": "5ms"},
			},
			{ID: "ComposableEchoAgent", Kind: "composable_echo", MaxConcurrency: 1, Options: map[string]any{"poll_interval": "5ms"}},
		},
		Server:  config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestQueue() *queueserver.Service {
	return queueserver.NewService(queueserver.ServiceConfig{Store: store.NewMemoryStore()})
}

// runGateway starts gw and returns its base URL and a stop function that
// waits for Run to return.
func runGateway(t *testing.T, gw *Gateway) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	select {
	case <-gw.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not become ready")
	}

	var once bool
	stop := func() error {
		if once {
			return nil
		}
		once = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("gateway did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return "http://" + gw.HTTPAddr().String(), stop
}

func waitFinished(t *testing.T, q *queueserver.Service, id string) *task.Record {
	t.Helper()
	var rec *task.Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = q.QueryTask(context.Background(), id)
		return err == nil && rec.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return rec
}

func postJSON(t *testing.T, url string, body any) (int, MeshResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out MeshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGateway_RunsTasksEndToEnd(t *testing.T) {
	q := newTestQueue()
	gw, err := NewWithQueue(testConfig(), q, nil)
	require.NoError(t, err)
	base, stop := runGateway(t, gw)

	ctx := context.Background()
	echoID, err := q.CreateTask(ctx, task.CreateRequest{AgentType: "EchoAgent", Payload: map[string]any{"query": "ping"}})
	require.NoError(t, err)
	composedID, err := q.CreateTask(ctx, task.CreateRequest{AgentType: "ComposableEchoAgent", Payload: map[string]any{"query": "hi"}})
	require.NoError(t, err)

	rec := waitFinished(t, q, echoID)
	assert.Equal(t, task.StatusFinished, rec.Status)
	assert.Equal(t, "ping", rec.Result["response"])

	rec = waitFinished(t, q, composedID)
	require.Equal(t, task.StatusFinished, rec.Status, rec.Error)
	assert.Equal(t, "COMPOSABLE: hi", rec.Result["response"])
	require.NotEmpty(t, rec.Events)
	assert.Contains(t, rec.Events[0].Content, "delegated to EchoAgent")

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `mesh_agent_capacity{agent_type="EchoAgent"} 2`)
	assert.Contains(t, body, `mesh_tasks_total{agent_type="EchoAgent",status="finished"}`)

	require.NoError(t, stop())
}

func TestGateway_IntrospectionEndpoints(t *testing.T) {
	gw, err := NewWithQueue(testConfig(), newTestQueue(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, _ = get(t, ts.URL+"/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before Run")

	status, err := FetchStatus(context.Background(), nil, ts.URL)
	require.NoError(t, err)
	assert.False(t, status.Running)
	require.Len(t, status.Agents, 2)
	assert.Equal(t, "ComposableEchoAgent", status.Agents[0].AgentType)
	assert.Equal(t, 1, status.Agents[0].Capacity)
	assert.Equal(t, 0, status.TotalInFlight)

	code, body = get(t, ts.URL+"/agents")
	assert.Equal(t, http.StatusOK, code)
	var agents []AgentInfoResponse
	require.NoError(t, json.Unmarshal([]byte(body), &agents))
	require.Len(t, agents, 2)
	assert.Equal(t, AgentInfoResponse{
		ID: "EchoAgent", Kind: "echo", MaxConcurrency: 2,
		Description: "Returns the query",
		Metadata:    map[string]any{"version": "1.0"},
	}, agents[1])
	assert.Empty(t, agents[0].Description)
	assert.Nil(t, agents[0].Metadata)
	assert.NotContains(t, body, `"metadata":null`)
}

func TestGateway_ReadyWhileRunning(t *testing.T) {
	gw, err := NewWithQueue(testConfig(), newTestQueue(), nil)
	require.NoError(t, err)
	base, stop := runGateway(t, gw)

	require.Eventually(t, func() bool {
		code, _ := get(t, base+"/health/ready")
		return code == http.StatusOK
	}, time.Second, 5*time.Millisecond)

	status, err := FetchStatus(context.Background(), nil, base)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.True(t, strings.HasPrefix(status.ServerID, "mesh-manager-"))

	require.NoError(t, stop())
}

func TestGateway_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	gw, err := NewWithQueue(cfg, newTestQueue(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()
	code, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGateway_NoHTTPServer(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = ""
	gw, err := NewWithQueue(cfg, newTestQueue(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()
	<-gw.Ready()
	assert.Nil(t, gw.HTTPAddr())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewWithQueue_BadAgentConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = append(cfg.Agents, config.AgentConfig{ID: "X", Kind: "unknown", MaxConcurrency: 1})
	_, err := NewWithQueue(cfg, newTestQueue(), nil)
	require.Error(t, err)
}

func TestFetchStatus_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := FetchStatus(context.Background(), nil, ts.URL)
	require.Error(t, err)
}

func TestGateway_MeshRequest(t *testing.T) {
	q := newTestQueue()
	gw, err := NewWithQueue(testConfig(), q, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	code, resp := postJSON(t, ts.URL+"/mesh_request", MeshRequest{
		AgentID: "EchoAgent",
		Input:   map[string]any{"query": "ping"},
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, "EchoAgent", resp.AgentID)
	assert.Equal(t, "ping", resp.Result["response"])
	assert.True(t, strings.HasPrefix(resp.TaskID, "direct-"))

	// Direct calls never touch the queue.
	_, err = q.QueryTask(context.Background(), resp.TaskID)
	require.Error(t, err)

	status, err := FetchStatus(context.Background(), nil, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, status.TotalInFlight)
}

func TestGateway_MeshRequestErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = append(cfg.Agents, config.AgentConfig{ID: "Keyless", Kind: "anthropic", MaxConcurrency: 1})
	gw, err := NewWithQueue(cfg, newTestQueue(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	code, resp := postJSON(t, ts.URL+"/mesh_request", MeshRequest{AgentID: "Nope"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "agent Nope not found", resp.Error)

	code, resp = postJSON(t, ts.URL+"/mesh_request", MeshRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "agent_id is required", resp.Error)

	code, resp = postJSON(t, ts.URL+"/mesh_request", MeshRequest{AgentID: "Keyless", Input: map[string]any{"query": "hi"}})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, resp.Error, "api_key is not configured")
	assert.Nil(t, resp.Result)

	status, err := FetchStatus(context.Background(), nil, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, status.TotalInFlight, "a failed call releases its slot")

	code, _ = get(t, ts.URL+"/mesh_request")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestGateway_MeshRequestSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = append(cfg.Agents, config.AgentConfig{
		ID: "SlowAgent", Kind: "echo", MaxConcurrency: 1,
		Options: map[string]any{"min_delay": "300ms", "max_delay": "300ms"},
	})
	gw, err := NewWithQueue(cfg, newTestQueue(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	type reply struct {
		code int
		resp MeshResponse
	}
	first := make(chan reply, 1)
	go func() {
		raw, _ := json.Marshal(MeshRequest{AgentID: "SlowAgent", Input: map[string]any{"query": "slow"}})
		r, err := http.Post(ts.URL+"/mesh_request", "application/json", bytes.NewReader(raw))
		if err != nil {
			first <- reply{}
			return
		}
		defer r.Body.Close()
		var out MeshResponse
		_ = json.NewDecoder(r.Body).Decode(&out)
		first <- reply{r.StatusCode, out}
	}()

	require.Eventually(t, func() bool {
		st, _ := gw.Manager().Status().Get("SlowAgent")
		return st.InFlight == 1
	}, time.Second, time.Millisecond)

	raw, err := json.Marshal(MeshRequest{AgentID: "SlowAgent"})
	require.NoError(t, err)
	r, err := http.Post(ts.URL+"/mesh_request", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, r.StatusCode)
	assert.Equal(t, "1", r.Header.Get("Retry-After"))

	select {
	case got := <-first:
		assert.Equal(t, http.StatusOK, got.code)
		assert.Equal(t, "slow", got.resp.Result["response"])
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not finish")
	}
}

func TestGateway_MeshRequestBadBody(t *testing.T) {
	gw, err := NewWithQueue(testConfig(), newTestQueue(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mesh_request", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
