// Package pg wraps pgx/v5 connection pool setup shared by every durable
// store (conversation continuations, message bus transactions, workflow
// state). Adapted from the teacher's repository/postgres package:
// same PgBouncer-aware exec mode detection and dynamic table prefixing,
// pointed at this daemon's own schema instead of the document tree.
package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TableNames holds the prefixed table names for this environment
// (dev_/test_/prod_, per config.TablePrefix).
type TableNames struct {
	Continuations string
	Turns         string
	Transactions  string
	Workflows     string
}

// NewTableNames builds prefixed table names, e.g. "prod_continuations".
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Continuations: fmt.Sprintf("%scontinuations", prefix),
		Turns:         fmt.Sprintf("%sturns", prefix),
		Transactions:  fmt.Sprintf("%stransactions", prefix),
		Workflows:     fmt.Sprintf("%sworkflows", prefix),
	}
}

// CreateConnectionPool opens a pgx pool against databaseURL. Port 6543
// (PgBouncer transaction pooling, e.g. Supabase's pooler) doesn't support
// prepared statements, so that port is auto-detected and switched to
// QueryExecModeCacheDescribe — extended protocol without server-side
// prepare, which keeps JSONB findings_json encoding working.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	cfg.MaxConns = 25
	cfg.MinConns = 2

	if cfg.ConnConfig.Port == 6543 && cfg.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// IsNoRows reports whether err is pgx's "no rows" sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicate reports whether err is a unique-constraint violation
// (23505) — used by the workflow store's Create to detect a freshly
// minted workflow id that already exists.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
