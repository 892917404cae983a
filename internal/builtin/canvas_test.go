package builtin

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callCanvas(t *testing.T, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	cs := NewCanvasServer("test", nil)
	req := mcp.CallToolRequest{}
	req.Params.Name = canvasTool
	req.Params.Arguments = args
	res, err := cs.handleCanvas(context.Background(), req)
	require.NoError(t, err)
	return res
}

func resultText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestCanvasReturnsContent(t *testing.T) {
	res := callCanvas(t, map[string]any{"content": "hello"})
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", resultText(res))
}

func TestCanvasPrependsTitle(t *testing.T) {
	res := callCanvas(t, map[string]any{"content": "body", "title": "Report"})
	assert.Equal(t, "# Report\n\nbody", resultText(res))
}

func TestCanvasRequiresContent(t *testing.T) {
	res := callCanvas(t, map[string]any{})
	assert.True(t, res.IsError)
}

func TestCanvasRejectsOversizedContent(t *testing.T) {
	res := callCanvas(t, map[string]any{"content": strings.Repeat("x", canvasMaxContent+1)})
	assert.True(t, res.IsError)
}
