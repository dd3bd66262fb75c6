package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/cache"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ProjectStore abstracts DB queries for testability.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error)
}

type projectRow struct {
	ProjectID  string
	APIKeyHash string
}

// sqlProjectStore is the real implementation using *sql.DB.
type sqlProjectStore struct {
	db *sql.DB
}

func (s *sqlProjectStore) LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key_hash
		FROM projects
		WHERE api_key_prefix = $1 AND revoked_at IS NULL
	`, prefix)

	var r projectRow
	if err := row.Scan(&r.ProjectID, &r.APIKeyHash); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresAuthenticator validates API keys against bcrypt hashes in the
// projects table. Successful lookups are cached per key.
type PostgresAuthenticator struct {
	store    ProjectStore
	cache    *cache.SWR[string, *ProjectContext]
	logger   *zap.Logger
	failOpen bool
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	// FailOpen maps database outages to an "unknown" project instead of an
	// error. Wrong keys are always rejected.
	FailOpen bool
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new PostgresAuthenticator.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	return NewPostgresAuthenticatorWithStore(&sqlProjectStore{db: cfg.DB}, cfg.CacheTTL, cfg.FailOpen, cfg.Logger)
}

// NewPostgresAuthenticatorWithStore creates an authenticator with a custom store (for testing).
func NewPostgresAuthenticatorWithStore(store ProjectStore, cacheTTL time.Duration, failOpen bool, logger *zap.Logger) *PostgresAuthenticator {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:    store,
		cache:    cache.New[string, *ProjectContext](cacheTTL),
		logger:   logger,
		failOpen: failOpen,
	}
}

func (a *PostgresAuthenticator) Authenticate(ctx context.Context, token string) (*ProjectContext, error) {
	if !IsAPIKey(token) || len(token) < 8 {
		return nil, ErrUnauthenticated
	}

	// Check cache
	if res := a.cache.Get(token); res.Hit {
		if res.NeedsRefresh {
			go a.refreshInBackground(token)
		}
		return res.Value, nil
	}

	// Cache miss: authenticate synchronously
	project, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		if a.failOpen {
			a.logger.Warn("auth lookup failed, degrading to fail-open", zap.Error(err))
			return &ProjectContext{ProjectID: "unknown", Subject: token[:8]}, nil
		}
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	a.cache.Set(token, project)
	return project, nil
}

func (a *PostgresAuthenticator) authenticateFromDB(ctx context.Context, token string) (*ProjectContext, error) {
	prefix := token[:8]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("authenticateFromDB: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(token)); err != nil {
		return nil, ErrUnauthenticated
	}

	return &ProjectContext{ProjectID: row.ProjectID, Subject: prefix}, nil
}

func (a *PostgresAuthenticator) refreshInBackground(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	project, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			// Key was revoked or rotated.
			a.cache.Delete(token)
			return
		}
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.ReleaseRefresh(token)
		return
	}
	a.cache.Set(token, project)
}
