// Package openai wraps the OpenAI-compatible Chat Completions API. The same
// client serves OpenAI and DeepSeek, which differ only in base URL and model.
package openai

import (
	"context"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DeepSeekBaseURL is the OpenAI-compatible endpoint of DeepSeek.
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// Client defines the chat operations used by the model gateway.
type Client interface {
	CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single system + user exchange.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int64
	Temperature *float64
	// JSONMode asks the model for a JSON object reply.
	JSONMode bool
}

// ChatResponse is the first choice of a completion.
type ChatResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"gpt-4o":        {2.50, 10.00},
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4.1-mini":  {0.40, 1.60},
	"deepseek-chat": {0.27, 1.10},
}

// EstimateCost returns the estimated USD cost of u for model, or 0 for
// unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1e6*pricing[0] + float64(u.CompletionTokens)/1e6*pricing[1]
}

// LogCost logs token usage and estimated cost for one call.
func (u TokenUsage) LogCost(provider, model string) {
	zap.L().Debug("openai: usage",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int64("prompt_tokens", u.PromptTokens),
		zap.Int64("completion_tokens", u.CompletionTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client. baseURL may be empty for api.openai.com.
func NewClient(apiKey, baseURL string) Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.Chat.Completions.New(ctx, toSDKParams(req))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: completion has no choices")
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func toSDKParams(req ChatRequest) sdk.ChatCompletionNewParams {
	var msgs []sdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	msgs = append(msgs, sdk.UserMessage(req.User))

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.JSONMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}
