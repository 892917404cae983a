// Package types provides shared types used across the mcpchat codebase
package types

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message
type Role string

const (
	// RoleSystem is the system prompt role
	RoleSystem Role = "system"
	// RoleUser is the end user role
	RoleUser Role = "user"
	// RoleAssistant is the LLM role
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool result back to the LLM
	RoleTool Role = "tool"
)

// ToolCall is one invocation of an external tool, identified by a correlation ID.
// Arguments are never mutated in place; use WithArguments to derive an edited copy.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// WithArguments returns a copy of the call carrying the given arguments
func (tc ToolCall) WithArguments(args map[string]any) ToolCall {
	return ToolCall{ID: tc.ID, Name: tc.Name, Arguments: CloneArgs(args)}
}

// WithCallIDs returns a copy of calls where every call without an ID gets a fresh one
func WithCallIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.NewString()
		}
	}
	return out
}

// Artifact is a file produced by a tool for display or download
type Artifact struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	B64      string `json:"b64,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Viewer   string `json:"viewer,omitempty"`
}

// ToolResult is produced exactly once per ToolCall
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Message is one entry of the conversation history
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	// IsError marks a tool message carrying a failed result
	IsError bool `json:"is_error,omitempty"`
}

// FileRef is an uploaded file known to a session, addressed by its logical name
type FileRef struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Source      string    `json:"source,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Session holds conversation state for one authenticated user
type Session struct {
	ID         string             `json:"id"`
	UserEmail  string             `json:"user_email"`
	History    []Message          `json:"history"`
	Files      map[string]FileRef `json:"files"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	LastActive time.Time          `json:"last_active"`
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Message, len(s.History))
	for i, m := range s.History {
		out.History[i] = m
		if m.ToolCalls != nil {
			out.History[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				out.History[i].ToolCalls[j] = tc.WithArguments(tc.Arguments)
			}
		}
	}
	out.Files = make(map[string]FileRef, len(s.Files))
	for k, v := range s.Files {
		out.Files[k] = v
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ToolSchema describes a tool to the LLM. Parameters is a JSON schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Properties returns the declared parameter properties, or nil when the schema declares none
func (s ToolSchema) Properties() map[string]any {
	if s.Parameters == nil {
		return nil
	}
	props, _ := s.Parameters["properties"].(map[string]any)
	return props
}

// DeclaresProperties reports whether the schema carries a properties block at all
func (s ToolSchema) DeclaresProperties() bool {
	if s.Parameters == nil {
		return false
	}
	_, ok := s.Parameters["properties"]
	return ok
}

// AcceptsParameter reports whether the schema declares the named parameter
func (s ToolSchema) AcceptsParameter(name string) bool {
	_, ok := s.Properties()[name]
	return ok
}

// LLMResponse is the result of a tool-enabled LLM call
type LLMResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the LLM requested any tool invocation
func (r *LLMResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// LLM is the provider adapter consumed by the orchestration core
type LLM interface {
	CallPlain(ctx context.Context, model string, messages []Message, temperature float64) (string, error)
	CallWithTools(
		ctx context.Context,
		model string,
		messages []Message,
		tools []ToolSchema,
		toolChoice string,
		temperature float64,
	) (*LLMResponse, error)
}

// ChatConnection is the single primitive used to emit outward events
type ChatConnection interface {
	SendJSON(ctx context.Context, message any) error
}

// GroupCheckFunc reports whether user belongs to group
type GroupCheckFunc func(ctx context.Context, user, group string) (bool, error)

// MemberOfAny reports whether user belongs to at least one of groups. An empty
// group list is open. A nil check or an empty user denies. Check errors deny
// that group and are joined into err.
func MemberOfAny(ctx context.Context, check GroupCheckFunc, user string, groups []string) (member bool, err error) {
	if len(groups) == 0 {
		return true, nil
	}
	if check == nil || user == "" {
		return false, nil
	}
	var errs []error
	for _, g := range groups {
		ok, cerr := check(ctx, user, g)
		if cerr != nil {
			errs = append(errs, cerr)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// ToolExecutionContext carries per-call context into the tool-invocation layer
type ToolExecutionContext struct {
	SessionID string
	UserEmail string
	// Progress receives decoded progress updates emitted by the tool mid-call
	Progress ProgressFunc
}

// ProgressFunc receives progress updates decoded at the tool transport boundary
type ProgressFunc func(update ProgressUpdate)

// ToolManager is the tool-invocation layer consumed by the core
type ToolManager interface {
	GetToolsSchema(ctx context.Context, toolNames []string) ([]ToolSchema, error)
	ExecuteTool(ctx context.Context, call ToolCall, execCtx ToolExecutionContext) (*ToolResult, error)
	GetAuthorizedServers(ctx context.Context, userEmail string, check GroupCheckFunc) ([]string, error)
}

// CloneArgs returns a shallow copy of an argument map (nil-safe)
func CloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// SplitToolName splits a namespaced "<server>_<tool>" name using the longest
// matching known server name. ok is false when no known server prefixes the name.
func SplitToolName(name string, servers []string) (server, tool string, ok bool) {
	for _, s := range servers {
		prefix := s + "_"
		if strings.HasPrefix(name, prefix) && len(s) > len(server) {
			server, tool, ok = s, strings.TrimPrefix(name, prefix), true
		}
	}
	return server, tool, ok
}
