package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

func TestDocumentRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &types.Session{
		ID:        "s1",
		UserEmail: "alice@example.com",
		History: []types.Message{
			{Role: types.RoleUser, Content: "plot it"},
			{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
				{ID: "c1", Name: "viz_plot", Arguments: map[string]any{"opts": map[string]any{"bins": 10.0}}},
			}},
		},
	}

	doc, err := newDocument(session, now)
	if err != nil {
		t.Fatalf("newDocument() error: %v", err)
	}
	if doc.ID != "s1" || doc.UserEmail != "alice@example.com" {
		t.Errorf("unexpected document: %+v", doc)
	}
	if !doc.CreatedAt.Equal(now) || !doc.LastActive.Equal(now) {
		t.Errorf("expected stamped times, got %v %v", doc.CreatedAt, doc.LastActive)
	}

	later := now.Add(time.Hour)
	doc.LastActive = later
	got, err := doc.toSession()
	if err != nil {
		t.Fatalf("toSession() error: %v", err)
	}
	if !got.LastActive.Equal(later) {
		t.Errorf("expected LastActive from document column, got %v", got.LastActive)
	}
	opts, ok := got.History[1].ToolCalls[0].Arguments["opts"].(map[string]any)
	if !ok || opts["bins"] != 10.0 {
		t.Errorf("nested arguments lost: %#v", got.History[1].ToolCalls[0].Arguments)
	}
	if got.Files == nil {
		t.Error("expected files map to be initialized")
	}
}

func TestNewSessionStoreValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewSessionStore(ctx, "", "db"); err == nil {
		t.Error("expected error for empty uri")
	}
	if _, err := NewSessionStore(ctx, "mongodb://localhost", ""); err == nil {
		t.Error("expected error for empty database")
	}
}

// TestSessionStoreRoundTrip runs against a real server when TEST_MONGO_URL is set
func TestSessionStoreRoundTrip(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		t.Skip("TEST_MONGO_URL not set")
	}

	ctx := context.Background()
	store, err := NewSessionStore(ctx, uri, "mcpchat_test")
	if err != nil {
		t.Fatalf("NewSessionStore() error: %v", err)
	}
	defer store.Close(ctx)

	id := "test-" + time.Now().Format("150405.000000")
	defer store.DeleteSession(ctx, id)

	if err := store.SaveSession(ctx, &types.Session{ID: id, UserEmail: "alice@example.com"}); err != nil {
		t.Fatalf("SaveSession() error: %v", err)
	}
	got, err := store.GetSession(ctx, id)
	if err != nil || got == nil || got.UserEmail != "alice@example.com" {
		t.Fatalf("GetSession() = %+v, %v", got, err)
	}
	if err := store.UpdateSessionActivity(ctx, id); err != nil {
		t.Errorf("UpdateSessionActivity() error: %v", err)
	}
}
