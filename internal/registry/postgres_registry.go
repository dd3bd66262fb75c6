package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/cache"
	"go.uber.org/zap"
)

// ToolStore abstracts DB queries for testability.
type ToolStore interface {
	LookupTool(ctx context.Context, projectID, toolName string) (*toolRow, error)
}

type toolRow struct {
	ID             string
	ProjectID      string
	ToolName       string
	Description    sql.NullString
	ArgumentSchema sql.NullString // JSONB as string
}

// sqlToolStore is the real implementation using *sql.DB.
type sqlToolStore struct {
	db *sql.DB
}

func (s *sqlToolStore) LookupTool(ctx context.Context, projectID, toolName string) (*toolRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, tool_name, description, argument_schema
		FROM tool_definitions
		WHERE project_id = $1 AND tool_name = $2
	`, projectID, toolName)

	var r toolRow
	if err := row.Scan(&r.ID, &r.ProjectID, &r.ToolName, &r.Description, &r.ArgumentSchema); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresToolRegistry fetches tool definitions from the tool_definitions table.
type PostgresToolRegistry struct {
	store  ToolStore
	cache  *cache.SWR[string, *ToolDefinition]
	logger *zap.Logger
}

// PostgresToolRegistryConfig configures the PostgresToolRegistry.
type PostgresToolRegistryConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresToolRegistry creates a new PostgresToolRegistry.
func NewPostgresToolRegistry(cfg PostgresToolRegistryConfig) *PostgresToolRegistry {
	return newPostgresToolRegistryWithStore(&sqlToolStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

// newPostgresToolRegistryWithStore creates a registry with a custom store (for testing).
func newPostgresToolRegistryWithStore(store ToolStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresToolRegistry {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresToolRegistry{
		store:  store,
		cache:  cache.New[string, *ToolDefinition](cacheTTL),
		logger: logger,
	}
}

// cacheKey builds the lookup key for a project+tool pair.
func cacheKey(projectID, toolName string) string {
	return projectID + ":" + toolName
}

func (r *PostgresToolRegistry) GetTool(ctx context.Context, projectID, toolName string) (*ToolDefinition, error) {
	key := cacheKey(projectID, toolName)
	if res := r.cache.Get(key); res.Hit {
		if res.NeedsRefresh {
			go r.refreshInBackground(projectID, toolName)
		}
		return res.Value, nil
	}

	// Cache miss: fetch from DB
	td, err := r.fetchFromDB(ctx, projectID, toolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Negative cache: tool not registered
			r.cache.Set(key, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetTool: %w", err)
	}

	r.cache.Set(key, td)
	return td, nil
}

func (r *PostgresToolRegistry) fetchFromDB(ctx context.Context, projectID, toolName string) (*ToolDefinition, error) {
	row, err := r.store.LookupTool(ctx, projectID, toolName)
	if err != nil {
		return nil, err
	}
	return parseToolRow(row)
}

func (r *PostgresToolRegistry) refreshInBackground(projectID, toolName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := cacheKey(projectID, toolName)
	td, err := r.fetchFromDB(ctx, projectID, toolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Set(key, nil)
			return
		}
		r.logger.Warn("background tool registry refresh failed",
			zap.String("project_id", projectID),
			zap.String("tool_name", toolName),
			zap.Error(err),
		)
		r.cache.ReleaseRefresh(key)
		return
	}
	r.cache.Set(key, td)
}

func parseToolRow(row *toolRow) (*ToolDefinition, error) {
	td := &ToolDefinition{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		ToolName:  row.ToolName,
	}

	if row.Description.Valid {
		td.Description = row.Description.String
	}

	// Parse argument_schema (JSONB object)
	if row.ArgumentSchema.Valid && row.ArgumentSchema.String != "" && row.ArgumentSchema.String != "null" {
		var schema map[string]any
		if err := json.Unmarshal([]byte(row.ArgumentSchema.String), &schema); err != nil {
			return nil, fmt.Errorf("parseToolRow: argument_schema: %w", err)
		}
		td.ArgumentSchema = schema
	}

	return td, nil
}
