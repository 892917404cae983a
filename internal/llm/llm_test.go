package llm

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func conversation() []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: "be brief"},
		{Role: types.RoleUser, Content: "read both files"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "files_read", Arguments: map[string]any{"path": "a.txt"}},
			{ID: "c2", Name: "files_read", Arguments: map[string]any{"path": "b.txt"}},
		}},
		{Role: types.RoleTool, ToolCallID: "c1", Name: "files_read", Content: "A"},
		{Role: types.RoleTool, ToolCallID: "c2", Name: "files_read", Content: "B", IsError: true},
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "llamas"}, discard())
	assert.Error(t, err)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_EMPTY_KEY", "")
	_, err := New(config.LLMConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "MCPCHAT_TEST_EMPTY_KEY"}, discard())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewBuildsProviders(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_KEY", "sk-test")

	p, err := New(config.LLMConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "MCPCHAT_TEST_KEY"}, discard())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	p, err = New(config.LLMConfig{Provider: config.ProviderAnthropic, APIKeyEnv: "MCPCHAT_TEST_KEY"}, discard())
	require.NoError(t, err)
	require.IsType(t, &AnthropicProvider{}, p)
	assert.Equal(t, defaultAnthropicMaxTokens, p.(*AnthropicProvider).MaxTokens)
}

func TestDecodeArguments(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1.0}, decodeArguments([]byte(`{"a":1}`), discard()))
	assert.Equal(t, map[string]any{}, decodeArguments(nil, discard()))
	assert.Equal(t, map[string]any{}, decodeArguments([]byte(`[1,2]`), discard()))
}

func TestToOpenAIMessages(t *testing.T) {
	out := toOpenAIMessages(conversation())
	require.Len(t, out, 5)

	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	require.Len(t, out[2].ToolCalls, 2)
	assert.Equal(t, "c1", out[2].ToolCalls[0].ID)
	assert.Equal(t, openai.ToolTypeFunction, out[2].ToolCalls[0].Type)
	assert.JSONEq(t, `{"path":"a.txt"}`, out[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, out[3].Role)
	assert.Equal(t, "c1", out[3].ToolCallID)
}

func TestToOpenAITools(t *testing.T) {
	tools := toOpenAITools([]types.ToolSchema{
		{Name: "files_read", Description: "Read a file", Parameters: map[string]any{"type": "object"}},
		{Name: "canvas_canvas"},
	})
	require.Len(t, tools, 2)
	assert.Equal(t, "files_read", tools[0].Function.Name)
	assert.NotNil(t, tools[1].Function.Parameters)
}

func TestOpenAITemperature(t *testing.T) {
	assert.Greater(t, openAITemperature(0), float32(0))
	assert.Less(t, openAITemperature(0), float32(1e-6))
	assert.InDelta(t, 0.7, float64(openAITemperature(0.7)), 1e-6)
}

func TestOpenAIToolChoice(t *testing.T) {
	assert.Equal(t, ToolChoiceAuto, openAIToolChoice(""))
	assert.Equal(t, ToolChoiceNone, openAIToolChoice(ToolChoiceNone))
	assert.Equal(t, ToolChoiceRequired, openAIToolChoice(ToolChoiceRequired))

	forced, ok := openAIToolChoice("files_read").(openai.ToolChoice)
	require.True(t, ok)
	assert.Equal(t, "files_read", forced.Function.Name)
}

func TestFromOpenAIToolCalls(t *testing.T) {
	calls := fromOpenAIToolCalls([]openai.ToolCall{
		{ID: "c1", Function: openai.FunctionCall{Name: "files_read", Arguments: `{"path":"a.txt"}`}},
		{ID: "c2", Function: openai.FunctionCall{Name: "files_list", Arguments: `not json`}},
	}, discard())
	require.Len(t, calls, 2)
	assert.Equal(t, "a.txt", calls[0].Arguments["path"])
	assert.Empty(t, calls[1].Arguments)
	assert.Nil(t, fromOpenAIToolCalls(nil, discard()))
}

func TestToAnthropicMessagesGroupsToolResults(t *testing.T) {
	system, out := toAnthropicMessages(conversation())
	assert.Equal(t, "be brief", system)

	// user, assistant(tool_use x2), user(tool_result x2)
	require.Len(t, out, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	require.Len(t, out[1].Content, 2)
	assert.NotNil(t, out[1].Content[0].OfToolUse)

	require.Len(t, out[2].Content, 2)
	require.NotNil(t, out[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", out[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "c2", out[2].Content[1].OfToolResult.ToolUseID)
	assert.False(t, out[2].Content[0].OfToolResult.IsError.Value)
	assert.True(t, out[2].Content[1].OfToolResult.IsError.Value)
}

func TestToAnthropicTools(t *testing.T) {
	tools := toAnthropicTools([]types.ToolSchema{{
		Name:        "files_read",
		Description: "Read a file",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "files_read", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
}

func TestAnthropicToolChoice(t *testing.T) {
	assert.NotNil(t, anthropicToolChoice("").OfAuto)
	assert.NotNil(t, anthropicToolChoice(ToolChoiceNone).OfNone)
	assert.NotNil(t, anthropicToolChoice(ToolChoiceRequired).OfAny)
	forced := anthropicToolChoice("files_read").OfTool
	require.NotNil(t, forced)
	assert.Equal(t, "files_read", forced.Name)
}

func TestFromAnthropicMessage(t *testing.T) {
	var msg anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [
			{"type": "text", "text": "Let me look. "},
			{"type": "tool_use", "id": "tu_1", "name": "files_read", "input": {"path": "a.txt"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 2}
	}`), &msg))

	resp := fromAnthropicMessage(&msg, discard())
	assert.Equal(t, "Let me look. ", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "a.txt", resp.ToolCalls[0].Arguments["path"])
}
