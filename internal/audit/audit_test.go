package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.New(slog.NewJSONHandler(buf, nil)))
}

func TestLogToolCallOmitsArgumentValues(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	args := map[string]any{"username": "alice", "query": "secret"}
	l.LogToolCall(context.Background(), &Entry{
		Timestamp:    time.Now(),
		SessionID:    "s1",
		UserEmail:    "alice@example.com",
		ToolCallID:   "c1",
		ToolName:     "files_search",
		ArgumentKeys: Keys(args),
	})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Failed to decode log record: %v", err)
	}
	if record["msg"] != "tool_call" {
		t.Errorf("Expected msg tool_call, got %v", record["msg"])
	}
	if record["component"] != "audit" {
		t.Errorf("Expected component audit, got %v", record["component"])
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("Argument values must not be logged")
	}
}

func TestLogToolResult(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.LogToolResult(context.Background(), &Entry{ToolName: "t", ErrorMsg: "boom"})
	if !strings.Contains(buf.String(), `"msg":"tool_error"`) {
		t.Errorf("Expected tool_error record, got %s", buf.String())
	}

	buf.Reset()
	l.LogToolResult(context.Background(), &Entry{ToolName: "t", Duration: 2 * time.Second})
	if !strings.Contains(buf.String(), `"duration_ms":2000`) {
		t.Errorf("Expected duration in record, got %s", buf.String())
	}
}

func TestLogAuthorization(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.LogAuthorization(context.Background(), "bob", "admin", true, nil)
	if buf.Len() != 0 {
		t.Errorf("Allowed access should not be logged, got %s", buf.String())
	}

	l.LogAuthorization(context.Background(), "bob", "admin", false, nil)
	if !strings.Contains(buf.String(), "authorization_denied") {
		t.Errorf("Expected denial record, got %s", buf.String())
	}

	buf.Reset()
	l.LogAuthorization(context.Background(), "bob", "admin", false, errors.New("down"))
	if !strings.Contains(buf.String(), "authorization_error") {
		t.Errorf("Expected error record, got %s", buf.String())
	}
}

func TestKeysSorted(t *testing.T) {
	keys := Keys(map[string]any{"b": 1, "a": 2})
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Unexpected keys: %v", keys)
	}
}
