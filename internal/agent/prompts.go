package agent

import (
	"fmt"
	"strings"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

const reasonSystemPrompt = `You are an assistant that solves the user's request step by step using tools.
Each step, reply with a single JSON object and nothing else:
{"plan": "...", "tools": ["tool_name", ...], "finish": false, "next_action": "...", "final_answer": "", "request_input": null}
Set "finish" to true and fill "final_answer" once you can answer.
To ask the user a question instead, set "request_input" to {"question": "..."}.
Only list tools from this set:
%s`

const actSystemPrompt = `Carry out the next action by calling the provided tools.
Next action: %s`

const observeSystemPrompt = `Summarize what the tool results below mean for the user's request in one or two sentences.
Reply with a JSON object: {"observation": "..."}`

func toolCatalog(tools []types.ToolSchema) string {
	if len(tools) == 0 {
		return "(no tools available)"
	}
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}

func transcriptMessage(observations []string) types.Message {
	var b strings.Builder
	b.WriteString("Progress so far:\n")
	for i, o := range observations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	return types.Message{Role: types.RoleUser, Content: b.String()}
}

func formatResults(calls []types.ToolCall, results []types.ToolResult) string {
	var b strings.Builder
	for i, r := range results {
		name := ""
		if i < len(calls) {
			name = calls[i].Name
		}
		status := "ok"
		if r.IsError {
			status = "error"
		}
		fmt.Fprintf(&b, "[%s %s] %s\n", name, status, r.Content)
	}
	return strings.TrimSpace(b.String())
}
