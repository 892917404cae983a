package mcpclient

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/routing"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

type stubSampler struct {
	got routing.SamplingRequest
}

func (s *stubSampler) Sample(_ context.Context, req routing.SamplingRequest) (*routing.SamplingResult, error) {
	s.got = req
	return &routing.SamplingResult{Text: "summary", Model: "stub-model"}, nil
}

func TestSchemaOf(t *testing.T) {
	t.Parallel()
	tool := mcp.NewTool("search",
		mcp.WithDescription("Search documents"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	)

	schema := schemaOf("docs", tool)
	assert.Equal(t, "docs_search", schema.Name)
	assert.Equal(t, "Search documents", schema.Description)
	assert.Equal(t, "object", schema.Parameters["type"])
	assert.True(t, schema.AcceptsParameter("query"))
	assert.True(t, schema.AcceptsParameter("limit"))
}

func TestResultOf(t *testing.T) {
	t.Parallel()
	res := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("line one"),
			mcp.NewTextContent("line two"),
			mcp.NewImageContent("aW1n", "image/jpeg"),
		},
	}

	out := resultOf(res)
	assert.Equal(t, "line one\nline two", out.Content)
	assert.False(t, out.IsError)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, "image-3", out.Artifacts[0].Name)
	assert.Equal(t, "image/jpeg", out.Artifacts[0].MimeType)
}

func TestResultOfStructuredContentFallback(t *testing.T) {
	t.Parallel()
	res := &mcp.CallToolResult{StructuredContent: map[string]any{"count": 3}}
	assert.JSONEq(t, `{"count":3}`, resultOf(res).Content)
}

func TestResourceArtifact(t *testing.T) {
	t.Parallel()
	blob := mcp.BlobResourceContents{URI: "file:///reports/q3.pdf", MIMEType: "application/pdf", Blob: "cGRm"}
	a, _, ok := resourceArtifact(blob, 0)
	require.True(t, ok)
	assert.Equal(t, "q3.pdf", a.Name)
	assert.Equal(t, "application/pdf", a.MimeType)
	assert.Equal(t, "cGRm", a.B64)

	text := mcp.TextResourceContents{URI: "file:///notes.txt", Text: "hello"}
	_, got, ok := resourceArtifact(text, 1)
	assert.False(t, ok)
	assert.Equal(t, "hello", got)
}

func TestParseProgress(t *testing.T) {
	t.Parallel()
	token, progress, total, message, ok := parseProgress(map[string]any{
		"progressToken": "abc",
		"progress":      3.0,
		"total":         10.0,
		"message":       "working",
	})
	require.True(t, ok)
	assert.Equal(t, "abc", token)
	assert.Equal(t, 3.0, progress)
	require.NotNil(t, total)
	assert.Equal(t, 10.0, *total)
	assert.Equal(t, "working", message)

	token, _, total, _, ok = parseProgress(map[string]any{"progressToken": 7.0})
	require.True(t, ok)
	assert.Equal(t, "7", token)
	assert.Nil(t, total)

	_, _, _, _, ok = parseProgress(map[string]any{"progress": 1.0})
	assert.False(t, ok)
}

func TestSamplingAdapterUsesRouter(t *testing.T) {
	t.Parallel()
	sampler := &stubSampler{}
	router := routing.NewRouter(pending.NewElicitationRegistry(nil), pending.NewSamplingRegistry(nil), routing.Options{
		SamplingTimeout: time.Second,
		Sampler:         sampler,
	})
	adapter := samplingAdapter{handle: router.SamplingHandlerFor("docs")}

	req := mcp.CreateMessageRequest{}
	req.Messages = []mcp.SamplingMessage{
		{Role: mcp.RoleUser, Content: mcp.NewTextContent("summarize this")},
		{Role: mcp.RoleUser, Content: map[string]any{"type": "text", "text": "and this"}},
	}
	req.SystemPrompt = "be brief"
	req.Temperature = 0.2
	req.MaxTokens = 100
	req.ModelPreferences = &mcp.ModelPreferences{Hints: []mcp.ModelHint{{Name: "small"}}}

	route := routing.Route{
		ServerName: "docs",
		SessionID:  "s1",
		Call:       types.ToolCall{ID: "c1", Name: "docs_summarize"},
	}
	var res *mcp.CreateMessageResult
	err := router.WithRouting(context.Background(), route, func(ctx context.Context) error {
		var err error
		res, err = adapter.CreateMessage(ctx, req)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "stub-model", res.Model)
	assert.Equal(t, mcp.RoleAssistant, res.Role)
	text, ok := mcp.AsTextContent(res.Content)
	require.True(t, ok)
	assert.Equal(t, "summary", text.Text)

	require.Len(t, sampler.got.Messages, 2)
	assert.Equal(t, types.SamplingMessage{Role: types.RoleUser, Content: "summarize this"}, sampler.got.Messages[0])
	assert.Equal(t, "and this", sampler.got.Messages[1].Content)
	assert.Equal(t, "be brief", sampler.got.SystemPrompt)
	assert.Equal(t, "small", sampler.got.ModelHint)
	require.NotNil(t, sampler.got.Temperature)
	assert.Equal(t, 0.2, *sampler.got.Temperature)
}

func TestElicitationAdapter(t *testing.T) {
	t.Parallel()
	var got routing.ElicitationRequest
	adapter := elicitationAdapter{handle: func(_ context.Context, req routing.ElicitationRequest) pending.ElicitationOutcome {
		got = req
		return pending.ElicitationOutcome{Action: pending.ActionAccept, Data: map[string]any{"color": "blue"}}
	}}

	req := mcp.ElicitationRequest{}
	req.Params.Message = "Pick a color"
	req.Params.RequestedSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"color": map[string]any{"type": "string"}},
	}

	res, err := adapter.Elicit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, mcp.ElicitationResponseAction(pending.ActionAccept), res.Action)
	assert.Equal(t, map[string]any{"color": "blue"}, res.Content)
	assert.Equal(t, "Pick a color", got.Message)
	assert.Contains(t, got.Schema, "properties")
}

func TestElicitationAdapterWithoutRouteCancels(t *testing.T) {
	t.Parallel()
	router := routing.NewRouter(pending.NewElicitationRegistry(nil), pending.NewSamplingRegistry(nil), routing.Options{})
	adapter := elicitationAdapter{handle: router.ElicitationHandlerFor("docs")}

	req := mcp.ElicitationRequest{}
	req.Params.Message = "Continue?"

	res, err := adapter.Elicit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, mcp.ElicitationResponseAction(pending.ActionCancel), res.Action)
	assert.Nil(t, res.Content)
}
