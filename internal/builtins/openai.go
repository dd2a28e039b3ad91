// ABOUTME: OpenAI handler kind: one chat completion on the task query
// ABOUTME: Shares the option set and key handling of the anthropic kind

package builtins

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/mesh-manager/internal/agent"
)

type openaiHandler struct {
	client   openai.Client
	settings llmSettings
}

func newOpenAIFactory(opts options) (agent.Factory, error) {
	settings, err := parseLLMSettings(opts, openai.ChatModelGPT4oMini)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return func() (agent.Handler, error) {
		if settings.apiKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
		}
		clientOpts := []option.RequestOption{option.WithAPIKey(settings.apiKey)}
		if settings.baseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(settings.baseURL))
		}
		return &openaiHandler{
			client:   openai.NewClient(clientOpts...),
			settings: settings,
		}, nil
	}, nil
}

func (h *openaiHandler) Handle(ctx context.Context, req agent.Request, progress agent.Progress) (map[string]any, error) {
	query := req.Query()
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if h.settings.system != "" {
		messages = append(messages, openai.SystemMessage(h.settings.system))
	}
	messages = append(messages, openai.UserMessage(query))

	progress.Emit(ctx, "asking "+h.settings.model)
	resp, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               h.settings.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(h.settings.maxTokens)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	return map[string]any{
		"response":      choice.Message.Content,
		"model":         resp.Model,
		"stop_reason":   choice.FinishReason,
		"input_tokens":  resp.Usage.PromptTokens,
		"output_tokens": resp.Usage.CompletionTokens,
	}, nil
}

func (h *openaiHandler) Close(context.Context) error { return nil }
