package types

import (
	"context"
	"errors"
	"testing"
)

func TestToolCallWithArgumentsCopies(t *testing.T) {
	original := ToolCall{ID: "call-1", Name: "files_read", Arguments: map[string]any{"path": "a.txt"}}
	edited := original.WithArguments(map[string]any{"path": "b.txt"})

	if original.Arguments["path"] != "a.txt" {
		t.Errorf("Expected original arguments untouched, got %v", original.Arguments["path"])
	}
	if edited.Arguments["path"] != "b.txt" {
		t.Errorf("Expected edited path b.txt, got %v", edited.Arguments["path"])
	}
	if edited.ID != original.ID || edited.Name != original.Name {
		t.Error("Expected ID and Name to be preserved")
	}
}

func TestSplitToolName(t *testing.T) {
	servers := []string{"pdf", "pdf_tools", "calculator"}

	tests := []struct {
		name       string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{"calculator_evaluate", "calculator", "evaluate", true},
		{"pdf_tools_extract", "pdf_tools", "extract", true},
		{"pdf_merge", "pdf", "merge", true},
		{"unknown_tool", "", "", false},
		{"calculator", "", "", false},
	}

	for _, tt := range tests {
		server, tool, ok := SplitToolName(tt.name, servers)
		if server != tt.wantServer || tool != tt.wantTool || ok != tt.wantOK {
			t.Errorf("SplitToolName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.name, server, tool, ok, tt.wantServer, tt.wantTool, tt.wantOK)
		}
	}
}

func TestToolSchemaAcceptsParameter(t *testing.T) {
	schema := ToolSchema{
		Name: "files_read",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"username": map[string]any{"type": "string"},
			},
		},
	}

	if !schema.AcceptsParameter("username") {
		t.Error("Expected schema to accept username")
	}
	if schema.AcceptsParameter("path") {
		t.Error("Expected schema to reject path")
	}
	if !schema.DeclaresProperties() {
		t.Error("Expected schema to declare properties")
	}

	empty := ToolSchema{Name: "noop"}
	if empty.DeclaresProperties() {
		t.Error("Expected empty schema to declare no properties")
	}
}

func TestSessionClone(t *testing.T) {
	session := &Session{
		ID:      "s1",
		History: []Message{{Role: RoleUser, Content: "hi"}},
		Files:   map[string]FileRef{"a.csv": {Name: "a.csv", Key: "k1"}},
	}

	clone := session.Clone()
	clone.History[0].Content = "changed"
	clone.Files["b.csv"] = FileRef{Name: "b.csv"}

	if session.History[0].Content != "hi" {
		t.Error("Expected history to be deep copied")
	}
	if _, ok := session.Files["b.csv"]; ok {
		t.Error("Expected files map to be deep copied")
	}
}

func TestWithCallIDs(t *testing.T) {
	calls := []ToolCall{{ID: "c1", Name: "a"}, {Name: "b"}}
	out := WithCallIDs(calls)

	if out[0].ID != "c1" {
		t.Errorf("Expected existing ID kept, got %s", out[0].ID)
	}
	if out[1].ID == "" {
		t.Error("Expected a generated ID")
	}
	if calls[1].ID != "" {
		t.Error("Expected input slice untouched")
	}
}

func TestMemberOfAny(t *testing.T) {
	ctx := context.Background()
	check := func(_ context.Context, user, group string) (bool, error) {
		if group == "broken" {
			return false, errors.New("directory down")
		}
		return user == "alice" && group == "admin", nil
	}

	if ok, err := MemberOfAny(ctx, nil, "", nil); !ok || err != nil {
		t.Errorf("Expected empty group list to be open, got %v %v", ok, err)
	}
	if ok, _ := MemberOfAny(ctx, nil, "alice", []string{"admin"}); ok {
		t.Error("Expected nil check to deny")
	}
	if ok, _ := MemberOfAny(ctx, check, "", []string{"admin"}); ok {
		t.Error("Expected empty user to deny")
	}
	if ok, err := MemberOfAny(ctx, check, "alice", []string{"broken", "admin"}); !ok || err != nil {
		t.Errorf("Expected membership through second group, got %v %v", ok, err)
	}
	ok, err := MemberOfAny(ctx, check, "bob", []string{"broken", "admin"})
	if ok {
		t.Error("Expected bob to be denied")
	}
	if err == nil {
		t.Error("Expected the check error to be reported")
	}
}
