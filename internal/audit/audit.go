package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Entry represents a logged event for provenance tracking
type Entry struct {
	Timestamp  time.Time
	SessionID  string
	UserEmail  string
	ToolCallID string
	ToolName   string
	// ArgumentKeys lists argument names only; values may carry user data
	ArgumentKeys []string
	IsError      bool
	Duration     time.Duration
	ErrorMsg     string
}

// Logger handles audit logging for tool calls, approvals and authorization
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a new audit logger
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		logger: logger.With("component", "audit"),
	}
}

// Keys returns the sorted key set of an argument map
func Keys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LogToolCall logs a tool invocation with all relevant context
func (l *Logger) LogToolCall(ctx context.Context, entry *Entry) {
	l.logger.InfoContext(ctx, "tool_call",
		"session_id", entry.SessionID,
		"user", entry.UserEmail,
		"tool_call_id", entry.ToolCallID,
		"tool_name", entry.ToolName,
		"argument_keys", entry.ArgumentKeys,
		"timestamp", entry.Timestamp,
	)
}

// LogToolResult logs a tool execution result
func (l *Logger) LogToolResult(ctx context.Context, entry *Entry) {
	if entry.ErrorMsg != "" {
		l.logger.ErrorContext(ctx, "tool_error",
			"session_id", entry.SessionID,
			"tool_call_id", entry.ToolCallID,
			"tool_name", entry.ToolName,
			"error", entry.ErrorMsg,
		)
		return
	}
	l.logger.InfoContext(ctx, "tool_result",
		"session_id", entry.SessionID,
		"tool_call_id", entry.ToolCallID,
		"tool_name", entry.ToolName,
		"is_error", entry.IsError,
		"duration_ms", entry.Duration.Milliseconds(),
	)
}

// LogApproval logs the outcome of an approval request
func (l *Logger) LogApproval(ctx context.Context, entry *Entry, outcome string, edited bool) {
	l.logger.InfoContext(ctx, "tool_approval",
		"session_id", entry.SessionID,
		"user", entry.UserEmail,
		"tool_call_id", entry.ToolCallID,
		"tool_name", entry.ToolName,
		"outcome", outcome,
		"edited", edited,
	)
}

// LogAuthorization logs a denied or failed server authorization
func (l *Logger) LogAuthorization(ctx context.Context, user, server string, allowed bool, err error) {
	if err != nil {
		l.logger.WarnContext(ctx, "authorization_error",
			"user", user,
			"server", server,
			"error", err,
		)
		return
	}
	if !allowed {
		l.logger.InfoContext(ctx, "authorization_denied",
			"user", user,
			"server", server,
		)
	}
}
