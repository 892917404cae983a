package llm

import (
	"context"
	"log/slog"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/retry"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// defaultAnthropicMaxTokens is used when the configuration leaves max_tokens unset;
// the Messages API requires it
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements types.LLM on the Messages API
type AnthropicProvider struct {
	Client    *anthropic.Client
	MaxTokens int

	retry  retry.Policy
	logger *slog.Logger
}

// NewAnthropicProvider creates an Anthropic adapter
func NewAnthropicProvider(apiKey string, cfg config.LLMConfig, policy retry.Policy, logger *slog.Logger) *AnthropicProvider {
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	cl := anthropic.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		Client:    &cl,
		MaxTokens: maxTokens,
		retry:     policy,
		logger:    logger.With("component", "llm", "provider", config.ProviderAnthropic),
	}
}

// CallPlain returns the concatenated text blocks of a message without tools
func (a *AnthropicProvider) CallPlain(ctx context.Context, model string, messages []types.Message, temperature float64) (string, error) {
	params := a.params(model, messages, temperature)
	resp, err := a.create(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CallWithTools returns the message text and any tool_use blocks as tool calls
func (a *AnthropicProvider) CallWithTools(
	ctx context.Context,
	model string,
	messages []types.Message,
	tools []types.ToolSchema,
	toolChoice string,
	temperature float64,
) (*types.LLMResponse, error) {
	params := a.params(model, messages, temperature)
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
		params.ToolChoice = anthropicToolChoice(toolChoice)
	}
	return a.create(ctx, params)
}

func (a *AnthropicProvider) params(model string, messages []types.Message, temperature float64) anthropic.MessageNewParams {
	system, converted := toAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(a.MaxTokens),
		Messages:    converted,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (a *AnthropicProvider) create(ctx context.Context, params anthropic.MessageNewParams) (*types.LLMResponse, error) {
	msg, err := retry.Do(ctx, a.retry, a.logger, "anthropic.messages",
		func(ctx context.Context) (*anthropic.Message, error) {
			return a.Client.Messages.New(ctx, params)
		})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrEmptyResponse
	}
	a.logger.DebugContext(ctx, "Message received",
		"model", string(msg.Model),
		"stop_reason", string(msg.StopReason),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
	)
	return fromAnthropicMessage(msg, a.logger), nil
}

// toAnthropicMessages lifts system messages into the system prompt and groups
// consecutive tool results into a single user turn
func toAnthropicMessages(messages []types.Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)

		case types.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case types.RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)
			if n := len(out); n > 0 && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))

		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func isToolResultTurn(m anthropic.MessageParam) bool {
	if m.Role != anthropic.MessageParamRoleUser || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.OfToolResult == nil {
			return false
		}
	}
	return true
}

func toAnthropicTools(tools []types.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Properties()}
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}
		if required, ok := t.Parameters["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		} else if required, ok := t.Parameters["required"].([]string); ok {
			schema.Required = append(schema.Required, required...)
		}

		tool := anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: schema,
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func anthropicToolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "", ToolChoiceAuto:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	case ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice}}
	}
}

func fromAnthropicMessage(msg *anthropic.Message, logger *slog.Logger) *types.LLMResponse {
	var text strings.Builder
	resp := &types.LLMResponse{}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: decodeArguments(b.Input, logger),
			})
		}
	}
	resp.Content = text.String()
	return resp
}
