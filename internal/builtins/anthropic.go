// ABOUTME: Anthropic handler kind: one Messages API call on the task query
// ABOUTME: A fresh SDK client is built per task from the configured key

package builtins

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/mesh-manager/internal/agent"
)

// ErrMissingAPIKey is returned by an LLM handler factory configured without a key.
var ErrMissingAPIKey = errors.New("api_key is not configured")

// ErrEmptyQuery is returned when a task carries no query text.
var ErrEmptyQuery = errors.New("query is required")

// llmSettings is the shared option set of the LLM kinds.
type llmSettings struct {
	apiKey    string
	baseURL   string
	model     string
	system    string
	maxTokens int
}

func parseLLMSettings(opts options, defaultModel string) (llmSettings, error) {
	var s llmSettings
	var err error
	if s.apiKey, err = opts.str("api_key", ""); err != nil {
		return s, err
	}
	if s.baseURL, err = opts.str("base_url", ""); err != nil {
		return s, err
	}
	if s.model, err = opts.str("model", defaultModel); err != nil {
		return s, err
	}
	if s.system, err = opts.str("system", ""); err != nil {
		return s, err
	}
	if s.maxTokens, err = opts.integer("max_tokens", 1024); err != nil {
		return s, err
	}
	if s.maxTokens <= 0 {
		return s, fmt.Errorf("max_tokens must be positive, got %d", s.maxTokens)
	}
	return s, nil
}

type anthropicHandler struct {
	client   anthropic.Client
	settings llmSettings
}

func newAnthropicFactory(opts options) (agent.Factory, error) {
	settings, err := parseLLMSettings(opts, string(anthropic.ModelClaudeSonnet4_20250514))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return func() (agent.Handler, error) {
		if settings.apiKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
		}
		clientOpts := []option.RequestOption{option.WithAPIKey(settings.apiKey)}
		if settings.baseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(settings.baseURL))
		}
		return &anthropicHandler{
			client:   anthropic.NewClient(clientOpts...),
			settings: settings,
		}, nil
	}, nil
}

func (h *anthropicHandler) Handle(ctx context.Context, req agent.Request, progress agent.Progress) (map[string]any, error) {
	query := req.Query()
	if query == "" {
		return nil, ErrEmptyQuery
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(h.settings.model),
		MaxTokens: int64(h.settings.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
	}
	if h.settings.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: h.settings.system}}
	}

	progress.Emit(ctx, "asking "+h.settings.model)
	resp, err := h.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return map[string]any{
		"response":      text.String(),
		"model":         string(resp.Model),
		"stop_reason":   string(resp.StopReason),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}, nil
}

func (h *anthropicHandler) Close(context.Context) error { return nil }
