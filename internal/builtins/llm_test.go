// ABOUTME: Tests for the anthropic and openai kinds against local stub APIs
// ABOUTME: Stubs answer the Messages and Chat Completions endpoints via httptest

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/agent"
)

type capturedRequest struct {
	path   string
	header http.Header
	body   map[string]any
}

func stubAPI(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func queryRequest(q string) agent.Request {
	return agent.Request{TaskID: "t-1", Input: map[string]any{"query": q}}
}

func TestAnthropic_Handle(t *testing.T) {
	srv, got := stubAPI(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "Hello there"}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`)

	factory, err := newAnthropicFactory(options{
		"api_key":  "sk-ant-test",
		"base_url": srv.URL,
		"model":    "claude-test",
		"system":   "Be brief.",
	})
	require.NoError(t, err)
	h, err := factory()
	require.NoError(t, err)

	p := &collectedProgress{}
	result, err := h.Handle(context.Background(), queryRequest("hi"), p)
	require.NoError(t, err)

	assert.Equal(t, "Hello there", result["response"])
	assert.Equal(t, "end_turn", result["stop_reason"])
	assert.EqualValues(t, 12, result["input_tokens"])
	assert.Equal(t, []string{"asking claude-test"}, p.steps)

	assert.Equal(t, "/v1/messages", got.path)
	assert.Equal(t, "sk-ant-test", got.header.Get("X-Api-Key"))
	assert.Equal(t, "claude-test", got.body["model"])
	assert.NotNil(t, got.body["system"])
}

func TestAnthropic_APIError(t *testing.T) {
	srv, _ := stubAPI(t, http.StatusBadRequest,
		`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`)

	factory, err := newAnthropicFactory(options{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	h, err := factory()
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), queryRequest("hi"), agent.NopProgress{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic api error")
}

func TestOpenAI_Handle(t *testing.T) {
	srv, got := stubAPI(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-test",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "General Kenobi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
	}`)

	factory, err := newOpenAIFactory(options{
		"api_key":    "sk-test",
		"base_url":   srv.URL,
		"model":      "gpt-test",
		"max_tokens": 64,
	})
	require.NoError(t, err)
	h, err := factory()
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), queryRequest("Hello there"), agent.NopProgress{})
	require.NoError(t, err)

	assert.Equal(t, "General Kenobi", result["response"])
	assert.Equal(t, "stop", result["stop_reason"])
	assert.EqualValues(t, 2, result["output_tokens"])

	assert.Equal(t, "/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Equal(t, "gpt-test", got.body["model"])
	assert.EqualValues(t, 64, got.body["max_completion_tokens"])
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv, _ := stubAPI(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	factory, err := newOpenAIFactory(options{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	h, err := factory()
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), queryRequest("hi"), agent.NopProgress{})
	require.Error(t, err)
}

func TestLLMKinds_MissingKeyFailsConstruction(t *testing.T) {
	for name, build := range map[string]func(options) (agent.Factory, error){
		"anthropic": newAnthropicFactory,
		"openai":    newOpenAIFactory,
	} {
		t.Run(name, func(t *testing.T) {
			factory, err := build(options{})
			require.NoError(t, err, "a missing key is not a startup error")
			_, err = factory()
			require.True(t, errors.Is(err, ErrMissingAPIKey), "got %v", err)
		})
	}
}

func TestLLMKinds_EmptyQuery(t *testing.T) {
	factory, err := newAnthropicFactory(options{"api_key": "k", "base_url": "http://127.0.0.1:1"})
	require.NoError(t, err)
	h, err := factory()
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), agent.Request{}, agent.NopProgress{})
	require.ErrorIs(t, err, ErrEmptyQuery)
}

func TestParseLLMSettings_Invalid(t *testing.T) {
	_, err := parseLLMSettings(options{"max_tokens": 0}, "m")
	require.Error(t, err)
	_, err = parseLLMSettings(options{"model": 5}, "m")
	require.Error(t, err)
}
