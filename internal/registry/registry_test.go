package registry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

// mockToolStore is a test helper.
type mockToolStore struct {
	row *toolRow
	err error
}

func (m *mockToolStore) LookupTool(_ context.Context, _, _ string) (*toolRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func TestPostgresRegistry_CacheHit(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	callCount := 0
	store := &countingToolStore{
		row: &toolRow{
			ID:             "td-1",
			ProjectID:      "proj-1",
			ToolName:       "web_fetch",
			ArgumentSchema: sql.NullString{String: `{"type":"object","required":["url"]}`, Valid: true},
		},
		callCount: &callCount,
	}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	// First call: cache miss
	td, err := reg.GetTool(context.Background(), "proj-1", "web_fetch")
	if err != nil {
		t.Fatal(err)
	}
	if td.ToolName != "web_fetch" {
		t.Fatalf("expected web_fetch, got %s", td.ToolName)
	}
	if callCount != 1 {
		t.Fatalf("expected 1 DB call, got %d", callCount)
	}

	// Second call: cache hit
	if _, err := reg.GetTool(context.Background(), "proj-1", "web_fetch"); err != nil {
		t.Fatal(err)
	}
	if callCount != 1 {
		t.Fatalf("expected still 1 DB call (cache hit), got %d", callCount)
	}
}

func TestPostgresRegistry_ToolNotFound(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := &mockToolStore{err: sql.ErrNoRows}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	td, err := reg.GetTool(context.Background(), "proj-1", "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if td != nil {
		t.Fatal("expected nil for not-found tool")
	}
}

func TestPostgresRegistry_NegativeCache(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	callCount := 0
	store := &countingToolStoreWithErr{
		err:       sql.ErrNoRows,
		callCount: &callCount,
	}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	td, _ := reg.GetTool(context.Background(), "proj-1", "nonexistent")
	if td != nil {
		t.Fatal("expected nil")
	}
	td, _ = reg.GetTool(context.Background(), "proj-1", "nonexistent")
	if td != nil {
		t.Fatal("expected nil from negative cache")
	}
	if callCount != 1 {
		t.Fatalf("expected still 1 DB call (negative cache hit), got %d", callCount)
	}
}

func TestPostgresRegistry_ProjectsAreIsolated(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	callCount := 0
	store := &countingToolStore{row: &toolRow{ID: "td-1", ToolName: "search"}, callCount: &callCount}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	_, _ = reg.GetTool(context.Background(), "proj-1", "search")
	_, _ = reg.GetTool(context.Background(), "proj-2", "search")
	if callCount != 2 {
		t.Fatalf("expected a DB call per project, got %d", callCount)
	}
}

func TestPostgresRegistry_ParseSchema(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := &mockToolStore{
		row: &toolRow{
			ID:             "td-1",
			ProjectID:      "proj-1",
			ToolName:       "db_query",
			Description:    sql.NullString{String: "Run a read-only query", Valid: true},
			ArgumentSchema: sql.NullString{String: `{"type":"object","properties":{"query":{"type":"string"}}}`, Valid: true},
		},
	}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	td, err := reg.GetTool(context.Background(), "proj-1", "db_query")
	if err != nil {
		t.Fatal(err)
	}
	if td.Description != "Run a read-only query" {
		t.Fatalf("unexpected description %q", td.Description)
	}
	props, ok := td.ArgumentSchema["properties"].(map[string]any)
	if !ok || props["query"] == nil {
		t.Fatalf("expected query property in schema, got %v", td.ArgumentSchema)
	}
}

func TestPostgresRegistry_BadSchema(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := &mockToolStore{row: &toolRow{ToolName: "x", ArgumentSchema: sql.NullString{String: "{not json", Valid: true}}}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	if _, err := reg.GetTool(context.Background(), "proj-1", "x"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPostgresRegistry_DBError(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := &mockToolStore{err: context.DeadlineExceeded}
	reg := newPostgresToolRegistryWithStore(store, 30*time.Second, logger)

	_, err := reg.GetTool(context.Background(), "proj-1", "tool")
	if err == nil {
		t.Fatal("expected error on DB failure")
	}
}

func TestSQLToolStore_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT id, project_id, tool_name, description, argument_schema\s+FROM tool_definitions`).
		WithArgs("proj-1", "web_fetch").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "tool_name", "description", "argument_schema"}).
			AddRow("td-1", "proj-1", "web_fetch", nil, `{"type":"object"}`))

	reg := NewPostgresToolRegistry(PostgresToolRegistryConfig{DB: db})
	td, err := reg.GetTool(context.Background(), "proj-1", "web_fetch")
	if err != nil {
		t.Fatal(err)
	}
	if td.Description != "" || td.ArgumentSchema["type"] != "object" {
		t.Fatalf("unexpected tool definition: %+v", td)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSchemaLookup(t *testing.T) {
	reg := MapRegistry{
		"web_fetch": {ToolName: "web_fetch", ArgumentSchema: map[string]any{"type": "object"}},
		"plain":     {ToolName: "plain"},
	}
	lookup := SchemaLookup(reg, "proj-1")

	schema, err := lookup(context.Background(), "web_fetch")
	if err != nil || schema["type"] != "object" {
		t.Fatalf("expected schema, got %v (%v)", schema, err)
	}
	for _, name := range []string{"plain", "unregistered"} {
		schema, err := lookup(context.Background(), name)
		if err != nil || schema != nil {
			t.Fatalf("%s: expected nil schema, got %v (%v)", name, schema, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  - name: web_fetch
    description: Fetch a page
    argument_schema:
      type: object
      required: [url]
  - name: search
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reg) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(reg))
	}
	if reg["web_fetch"].ArgumentSchema["type"] != "object" {
		t.Fatalf("schema not loaded: %v", reg["web_fetch"].ArgumentSchema)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("tools:\n  - description: nameless\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatal("expected error for nameless tool")
	}
}

// countingToolStore tracks how many times LookupTool is called.
type countingToolStore struct {
	row       *toolRow
	callCount *int
}

func (s *countingToolStore) LookupTool(_ context.Context, _, _ string) (*toolRow, error) {
	*s.callCount++
	return s.row, nil
}

type countingToolStoreWithErr struct {
	err       error
	callCount *int
}

func (s *countingToolStoreWithErr) LookupTool(_ context.Context, _, _ string) (*toolRow, error) {
	*s.callCount++
	return nil, s.err
}
