package gateway

import (
	"context"
	"errors"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	sdkopenai "github.com/openai/openai-go/v3"

	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/resilience"
	"github.com/sells-group/concept-cli/pkg/anthropic"
	"github.com/sells-group/concept-cli/pkg/openai"
)

// Provider names accepted in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
)

// AnthropicProvider calls the Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider creates a provider for model.
func NewAnthropicProvider(client anthropic.Client, model string, maxTokens int64) *AnthropicProvider {
	return &AnthropicProvider{client: client, model: model, maxTokens: maxTokens}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

// Model implements Provider.
func (p *AnthropicProvider) Model() string { return p.model }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string) (*Reply, error) {
	temp := 0.0
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		var apiErr *sdkanthropic.Error
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, err
	}
	resp.Usage.LogCost(p.model, "extract")

	return &Reply{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CostUSD:      resp.Usage.EstimateCost(p.model),
		},
	}, nil
}

// ChatProvider calls an OpenAI-compatible chat endpoint.
type ChatProvider struct {
	name        string
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewChatProvider creates a provider. name is "openai" or "deepseek".
func NewChatProvider(name string, client openai.Client, model string, maxTokens int64, temperature float64) *ChatProvider {
	return &ChatProvider{name: name, client: client, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Name implements Provider.
func (p *ChatProvider) Name() string { return p.name }

// Model implements Provider.
func (p *ChatProvider) Model() string { return p.model }

// Complete implements Provider.
func (p *ChatProvider) Complete(ctx context.Context, system, prompt string) (*Reply, error) {
	temp := p.temperature
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatRequest{
		Model:       p.model,
		System:      system,
		User:        prompt,
		MaxTokens:   p.maxTokens,
		Temperature: &temp,
		JSONMode:    true,
	})
	if err != nil {
		var apiErr *sdkopenai.Error
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, err
	}
	resp.Usage.LogCost(p.name, p.model)

	return &Reply{
		Text:  resp.Content,
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			CostUSD:      resp.Usage.EstimateCost(p.model),
		},
	}, nil
}
