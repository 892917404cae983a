package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/mcpchat/internal/pending"
	"github.com/AltairaLabs/mcpchat/internal/routing"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// schemaOf converts an MCP tool into the namespaced schema handed to the LLM
func schemaOf(server string, tool mcp.Tool) types.ToolSchema {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if raw, err := json.Marshal(tool); err == nil {
		var decoded struct {
			InputSchema map[string]any `json:"inputSchema"`
		}
		if json.Unmarshal(raw, &decoded) == nil && decoded.InputSchema != nil {
			params = decoded.InputSchema
		}
	}
	return types.ToolSchema{
		Name:        server + "_" + tool.Name,
		Description: tool.Description,
		Parameters:  params,
	}
}

// resourceContents is the JSON shape of an embedded resource
type resourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	Text     string `json:"text"`
	Blob     string `json:"blob"`
}

// resultOf flattens a tool result. Text blocks are joined into Content; images
// and embedded resources become artifacts.
func resultOf(res *mcp.CallToolResult) *types.ToolResult {
	out := &types.ToolResult{IsError: res.IsError}

	var texts []string
	for i, c := range res.Content {
		if t, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, t.Text)
			continue
		}
		if img, ok := mcp.AsImageContent(c); ok {
			out.Artifacts = append(out.Artifacts, types.Artifact{
				Name:     fmt.Sprintf("image-%d", i+1),
				MimeType: img.MIMEType,
				B64:      img.Data,
			})
			continue
		}
		if emb, ok := mcp.AsEmbeddedResource(c); ok {
			if a, text, ok := resourceArtifact(emb.Resource, i); ok {
				out.Artifacts = append(out.Artifacts, a)
			} else if text != "" {
				texts = append(texts, text)
			}
		}
	}

	if len(texts) == 0 && res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			texts = append(texts, string(raw))
		}
	}
	out.Content = strings.Join(texts, "\n")
	return out
}

// resourceArtifact turns a blob resource into an artifact. Text resources are
// returned as text instead.
func resourceArtifact(resource any, index int) (types.Artifact, string, bool) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return types.Artifact{}, "", false
	}
	var rc resourceContents
	if err := json.Unmarshal(raw, &rc); err != nil {
		return types.Artifact{}, "", false
	}
	if rc.Blob == "" {
		return types.Artifact{}, rc.Text, false
	}
	name := path.Base(rc.URI)
	if rc.URI == "" || name == "/" || name == "." {
		name = fmt.Sprintf("resource-%d", index+1)
	}
	return types.Artifact{
		Name:     name,
		MimeType: rc.MIMEType,
		URL:      rc.URI,
		B64:      rc.Blob,
	}, "", true
}

// parseProgress extracts the fields of a progress notification
func parseProgress(fields map[string]any) (token string, progress float64, total *float64, message string, ok bool) {
	switch t := fields["progressToken"].(type) {
	case string:
		token = t
	case float64:
		token = fmt.Sprintf("%g", t)
	default:
		return "", 0, nil, "", false
	}
	progress, _ = fields["progress"].(float64)
	if v, isNum := fields["total"].(float64); isNum {
		total = &v
	}
	message, _ = fields["message"].(string)
	return token, progress, total, message, true
}

// samplingAdapter answers sampling requests from an MCP server
type samplingAdapter struct {
	handle routing.SamplingHandler
}

func (a samplingAdapter) CreateMessage(ctx context.Context, req mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	sreq := routing.SamplingRequest{
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		sreq.Temperature = &t
	}
	if req.ModelPreferences != nil && len(req.ModelPreferences.Hints) > 0 {
		sreq.ModelHint = req.ModelPreferences.Hints[0].Name
	}
	for _, m := range req.Messages {
		sreq.Messages = append(sreq.Messages, types.SamplingMessage{
			Role:    types.Role(m.Role),
			Content: samplingText(m.Content),
		})
	}

	res, err := a.handle(ctx, sreq)
	if err != nil {
		return nil, err
	}
	return &mcp.CreateMessageResult{
		SamplingMessage: mcp.SamplingMessage{
			Role:    mcp.RoleAssistant,
			Content: mcp.NewTextContent(res.Text),
		},
		Model:      res.Model,
		StopReason: "endTurn",
	}, nil
}

// samplingText extracts the text of a sampling message. Content may arrive
// typed or as a decoded JSON object.
func samplingText(content any) string {
	if t, ok := mcp.AsTextContent(content); ok {
		return t.Text
	}
	switch c := content.(type) {
	case string:
		return c
	case map[string]any:
		if s, ok := c["text"].(string); ok {
			return s
		}
	}
	return ""
}

// elicitationAdapter answers elicitation requests from an MCP server
type elicitationAdapter struct {
	handle routing.ElicitationHandler
}

func (a elicitationAdapter) Elicit(ctx context.Context, req mcp.ElicitationRequest) (*mcp.ElicitationResult, error) {
	outcome := a.handle(ctx, routing.ElicitationRequest{
		Message: req.Params.Message,
		Schema:  schemaMap(req.Params.RequestedSchema),
	})

	result := &mcp.ElicitationResult{
		ElicitationResponse: mcp.ElicitationResponse{
			Action: mcp.ElicitationResponseAction(outcome.Action),
		},
	}
	if outcome.Action == pending.ActionAccept {
		result.Content = outcome.Data
	}
	return result, nil
}

func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
