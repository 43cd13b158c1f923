package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"stockadvisor/internal/config"
)

type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Complete(ctx context.Context, call Call) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(call.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(call.System),
			openai.UserMessage(call.User),
		},
		Temperature: openai.Float(call.Temperature),
	}
	if call.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(call.MaxTokens)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", call.Model, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
