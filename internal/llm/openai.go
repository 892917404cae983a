package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/sashabaranov/go-openai"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/retry"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// OpenAIProvider implements types.LLM on the Chat Completions API
type OpenAIProvider struct {
	Client    *openai.Client
	MaxTokens int

	retry  retry.Policy
	logger *slog.Logger
}

// NewOpenAIProvider creates an OpenAI adapter. cfg.BaseURL points it at any
// OpenAI-compatible endpoint.
func NewOpenAIProvider(apiKey string, cfg config.LLMConfig, policy retry.Policy, logger *slog.Logger) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		Client:    openai.NewClientWithConfig(clientCfg),
		MaxTokens: cfg.MaxTokens,
		retry:     policy,
		logger:    logger.With("component", "llm", "provider", config.ProviderOpenAI),
	}
}

// CallPlain returns the text of a completion without tools
func (p *OpenAIProvider) CallPlain(ctx context.Context, model string, messages []types.Message, temperature float64) (string, error) {
	resp, err := p.complete(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openAITemperature(temperature),
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CallWithTools returns the completion text and any requested tool calls
func (p *OpenAIProvider) CallWithTools(
	ctx context.Context,
	model string,
	messages []types.Message,
	tools []types.ToolSchema,
	toolChoice string,
	temperature float64,
) (*types.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openAITemperature(temperature),
		MaxTokens:   p.MaxTokens,
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = openAIToolChoice(toolChoice)
	}

	msg, err := p.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &types.LLMResponse{
		Content:   msg.Content,
		ToolCalls: fromOpenAIToolCalls(msg.ToolCalls, p.logger),
	}, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionMessage, error) {
	resp, err := retry.Do(ctx, p.retry, p.logger, "openai.chat_completion",
		func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			return p.Client.CreateChatCompletion(ctx, req)
		})
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, ErrEmptyResponse
	}
	p.logger.DebugContext(ctx, "Completion received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message, nil
}

func toOpenAIMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		switch m.Role {
		case types.RoleTool:
			msg.ToolCallID = m.ToolCallID
		case types.RoleAssistant:
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []types.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func openAIToolChoice(choice string) any {
	switch choice {
	case "", ToolChoiceAuto:
		return ToolChoiceAuto
	case ToolChoiceNone, ToolChoiceRequired:
		return choice
	default:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice},
		}
	}
}

func fromOpenAIToolCalls(calls []openai.ToolCall, logger *slog.Logger) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, types.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: decodeArguments([]byte(c.Function.Arguments), logger),
		})
	}
	return out
}

// openAITemperature maps zero to the smallest non-zero value; the request
// omits a zero temperature and the API then applies its own default
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
