// Package builtin provides MCP servers that run inside the chat process
package builtin

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
)

const (
	// canvasTool is the bare tool name; clients see it as config.CanvasToolName
	canvasTool       = "canvas"
	canvasMaxContent = 1 << 20
)

// CanvasServer wraps the mcp-go server hosting the canvas tool. The executor
// turns a successful canvas call into a canvas_content event carrying the result.
type CanvasServer struct {
	server *server.MCPServer
	logger *slog.Logger
}

// NewCanvasServer creates the in-process canvas server
func NewCanvasServer(version string, logger *slog.Logger) *CanvasServer {
	if logger == nil {
		logger = slog.Default()
	}
	mcpServer := server.NewMCPServer(
		config.CanvasServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	cs := &CanvasServer{
		server: mcpServer,
		logger: logger.With("component", "canvas"),
	}
	cs.registerTools()
	return cs
}

// MCPServer returns the underlying server for in-process clients
func (cs *CanvasServer) MCPServer() *server.MCPServer {
	return cs.server
}

func (cs *CanvasServer) registerTools() {
	canvasTool := mcp.NewTool(canvasTool,
		mcp.WithDescription("Display markdown, HTML or code in the side canvas next to the chat. "+
			"Replaces whatever the canvas currently shows."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Content to display"),
		),
		mcp.WithString("title",
			mcp.Description("Optional heading shown above the content"),
		),
	)
	cs.server.AddTool(canvasTool, cs.handleCanvas)
}

func (cs *CanvasServer) handleCanvas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(content) > canvasMaxContent {
		return mcp.NewToolResultError("canvas content exceeds 1 MiB"), nil
	}

	if title := request.GetString("title", ""); title != "" {
		content = "# " + title + "\n\n" + content
	}

	cs.logger.DebugContext(ctx, "Canvas updated", "bytes", len(content))
	return mcp.NewToolResultText(content), nil
}
