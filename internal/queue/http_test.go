// ABOUTME: Tests for the HTTP queue client against an httptest server.
// ABOUTME: Covers request shapes, auth header, not-found mapping, and breaker behavior.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/task"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_PollEmptyAndTask(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathPoll, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))

		var req PollRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "EchoAgent", req.AgentID())
		assert.Equal(t, AgentKind, req.AgentInfo[0].AgentType)

		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, PollResponse{TaskID: "t1", Input: map[string]any{"query": "hi"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{Token: "secret"})
	defer c.Close()

	tk, err := c.Poll(context.Background(), "EchoAgent")
	require.NoError(t, err)
	assert.Nil(t, tk)

	tk, err = c.Poll(context.Background(), "EchoAgent")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, "t1", tk.ID)
	assert.Equal(t, "hi", tk.Payload["query"])
}

func TestHTTPClient_Submit(t *testing.T) {
	var got SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSubmit, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, SubmitResponse{Status: SubmitAccepted})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{})
	err := c.Submit(context.Background(), &task.Outcome{
		TaskID: "t1", AgentType: "EchoAgent", Status: task.StatusFinished,
		Result: map[string]any{"response": "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, "true", got.Results["success"])
}

func TestHTTPClient_CreateQueryUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathCreate, func(w http.ResponseWriter, r *http.Request) {
		var req CreateTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "EchoAgent", req.AgentID)
		writeJSON(w, http.StatusOK, CreateTaskResponse{TaskID: "child"})
	})
	mux.HandleFunc(PathUpdate, func(w http.ResponseWriter, r *http.Request) {
		var req UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Seq)
		writeJSON(w, http.StatusOK, UpdateResponse{Status: "ok"})
	})
	mux.HandleFunc(PathQuery, func(w http.ResponseWriter, r *http.Request) {
		var req QueryTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.TaskID == "missing" {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, QueryTaskResponse{
			TaskID: req.TaskID, Status: "finished",
			Result:         map[string]any{"response": "hi"},
			ReasoningSteps: []Step{{Seq: 1, Content: "step"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", Options{})
	ctx := context.Background()

	id, err := c.CreateTask(ctx, task.CreateRequest{AgentType: "EchoAgent", Payload: map[string]any{"query": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "child", id)

	require.NoError(t, c.PushUpdate(ctx, "child", task.Event{Seq: 2, Content: "x"}))

	rec, err := c.QueryTask(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFinished, rec.Status)
	assert.Equal(t, "hi", rec.Result["response"])
	require.Len(t, rec.Events, 1)

	_, err = c.QueryTask(ctx, "missing")
	require.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	code := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, code, ErrorResponse{Error: "nope"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{})

	err := c.Submit(context.Background(), &task.Outcome{TaskID: "t1", Status: task.StatusFailed})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "nope", se.Message)
	assert.False(t, IsTransient(err))

	code = http.StatusBadGateway
	err = c.Submit(context.Background(), &task.Outcome{TaskID: "t1", Status: task.StatusFailed})
	assert.True(t, IsTransient(err))
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{})
	_, err := c.Poll(context.Background(), "EchoAgent")
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.False(t, IsTransient(err))
}

func TestHTTPClient_BreakerOpensOnTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{BreakerMaxFailures: 2, BreakerOpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Poll(ctx, "EchoAgent")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState(PollBreaker("EchoAgent")))

	_, err := c.Poll(ctx, "EchoAgent")
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")
}

func TestHTTPClient_PermanentErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{BreakerMaxFailures: 1})
	for i := 0; i < 3; i++ {
		_, err := c.QueryTask(context.Background(), "t1")
		require.ErrorIs(t, err, task.ErrTaskNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState(BreakerQuery))
}

func TestHTTPClient_BreakersAreIsolated(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)

		var req PollRequest
		if r.URL.Path == PathPoll {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if failing.Load() && req.AgentID() == "BrokenAgent" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{BreakerMaxFailures: 2, BreakerOpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Poll(ctx, "BrokenAgent")
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, c.BreakerState(PollBreaker("BrokenAgent")))

	_, err := c.Poll(ctx, "EchoAgent")
	require.NoError(t, err, "another agent type's polls are unaffected")
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState(PollBreaker("EchoAgent")))

	err = c.Submit(ctx, &task.Outcome{TaskID: "t1", AgentType: "EchoAgent", Status: task.StatusFinished})
	require.NoError(t, err, "submits never wait on a breaker")
	n, ok := hits.Load(PathSubmit)
	require.True(t, ok)
	assert.Equal(t, int32(1), n.(*atomic.Int32).Load())
}

func TestHTTPClient_SubmitSkipsBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{BreakerMaxFailures: 1, BreakerOpenTimeout: time.Minute})
	o := &task.Outcome{TaskID: "t1", AgentType: "EchoAgent", Status: task.StatusFinished}
	for i := 0; i < 3; i++ {
		err := c.Submit(context.Background(), o)
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.Equal(t, int32(3), hits.Load(), "every submit reaches the server")
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{RateLimit: 0.001, RateBurst: 1})
	_, err := c.Poll(context.Background(), "EchoAgent")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Poll(ctx, "EchoAgent")
	require.Error(t, err, "second call must wait for a token and give up with the context")
}
