package arguments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

func schemaWith(props ...string) types.ToolSchema {
	p := make(map[string]any, len(props))
	for _, name := range props {
		p[name] = map[string]any{"type": "string"}
	}
	return types.ToolSchema{
		Name:       "files_report",
		Parameters: map[string]any{"type": "object", "properties": p},
	}
}

func testSession() SessionContext {
	return SessionContext{
		SessionID: "s1",
		UserEmail: "alice@example.com",
		Files: map[string]types.FileRef{
			"report.csv": {Name: "report.csv", Key: "uploads/s1/abc-report.csv"},
			"notes.txt":  {Name: "notes.txt", Key: "uploads/s1/def-notes.txt"},
		},
	}
}

func newTestPipeline() (*Pipeline, *HMACSigner) {
	signer := NewHMACSigner("https://chat.example.com", []byte("secret"))
	return NewPipeline(signer, time.Hour, nil), signer
}

func TestReinjectionOverridesEditedUsername(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()
	schema := schemaWith("username", "query")

	edited := map[string]any{"username": "mallory@example.com", "query": "salaries"}
	got := p.Prepare(context.Background(), edited, schema, testSession())

	assert.Equal(t, "alice@example.com", got["username"])
	assert.Equal(t, "salaries", got["query"])
	assert.Equal(t, "mallory@example.com", edited["username"], "input map must not be mutated")
}

func TestUsernameNotInjectedWhenUndeclared(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()

	got := p.Prepare(context.Background(), map[string]any{"query": "x"}, schemaWith("query"), testSession())
	_, ok := got["username"]
	assert.False(t, ok)
}

func TestUsernameDroppedWithoutIdentity(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()
	sc := testSession()
	sc.UserEmail = ""

	got := p.Prepare(context.Background(), map[string]any{"username": "mallory@example.com"}, schemaWith("username"), sc)
	_, ok := got["username"]
	assert.False(t, ok)
}

func TestFilenameResolvedToSignedURL(t *testing.T) {
	t.Parallel()
	p, signer := newTestPipeline()

	injected := p.Inject(context.Background(), map[string]any{"filename": "report.csv"}, schemaWith("filename"), testSession())
	url, ok := injected["filename"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(url, "https://chat.example.com/files/"))
	assert.NotContains(t, url, "uploads/s1", "raw storage key must not leak")
	assert.Equal(t, "report.csv", injected["original_filename"])

	key, err := signer.Verify(url)
	require.NoError(t, err)
	assert.Equal(t, "uploads/s1/abc-report.csv", key)

	filtered := p.FilterToSchema(injected, schemaWith("filename"))
	_, ok = filtered["original_filename"]
	assert.False(t, ok, "breadcrumb must be stripped")
}

func TestFileNamesResolved(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()

	args := map[string]any{"file_names": []any{"report.csv", "unknown.bin", "notes.txt"}}
	got := p.Inject(context.Background(), args, schemaWith("file_names"), testSession())

	list := got["file_names"].([]any)
	require.Len(t, list, 3)
	assert.True(t, strings.HasPrefix(list[0].(string), "https://"))
	assert.Equal(t, "unknown.bin", list[1])
	assert.True(t, strings.HasPrefix(list[2].(string), "https://"))
	assert.Equal(t, []any{"report.csv", "notes.txt"}, got["original_file_names"])
}

func TestResolvedURLNotResolvedTwice(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()
	schema := schemaWith("filename")

	first := p.Prepare(context.Background(), map[string]any{"filename": "report.csv"}, schema, testSession())
	second := p.Prepare(context.Background(), first, schema, testSession())
	assert.Equal(t, first["filename"], second["filename"])
}

func TestFilterDropsUndeclaredKeys(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()

	got := p.FilterToSchema(map[string]any{"query": "x", "injected": "y"}, schemaWith("query"))
	assert.Equal(t, map[string]any{"query": "x"}, got)
}

func TestFilterKeepsDeclaredBreadcrumb(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()

	got := p.FilterToSchema(map[string]any{"original_filename": "a.csv"}, schemaWith("original_filename"))
	assert.Equal(t, "a.csv", got["original_filename"])
}

func TestFilterWithoutProperties(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline()

	got := p.FilterToSchema(map[string]any{"a": 1, "original_filename": "x", "original_file_names": []any{"y"}},
		types.ToolSchema{Name: "free"})
	assert.Equal(t, map[string]any{"a": 1}, got)
}

func TestNoSignerLeavesNames(t *testing.T) {
	t.Parallel()
	p := NewPipeline(nil, 0, nil)

	got := p.Inject(context.Background(), map[string]any{"filename": "report.csv"}, schemaWith("filename"), testSession())
	assert.Equal(t, "report.csv", got["filename"])
}
