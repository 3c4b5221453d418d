// Package conversation implements the continuation store (spec.md
// §4.2): a durable, idle-TTL-expiring record of a conversation's turn
// history keyed by continuation_id. Grounded on the teacher's
// conversation service (internal/service/llm/conversation/service.go) —
// a thin service over a narrow repository interface — adapted to a
// single pgx-backed store since the daemon has no separate
// repository/service split for this concern.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/pg"
)

// Store is the durable continuation store.
type Store interface {
	// Create starts a new continuation and returns its id.
	Create(ctx context.Context, ttl time.Duration) (string, error)

	// Append adds a turn to continuationID's history, refreshing its
	// idle TTL. Returns a domain error of KindUnknownContinuation if the
	// id doesn't exist or has expired.
	Append(ctx context.Context, continuationID string, turn models.Turn, ttl time.Duration) error

	// Load returns the full ordered turn history for continuationID.
	Load(ctx context.Context, continuationID string) (*models.Continuation, error)

	// Sweep deletes continuations past their idle TTL, returning the count removed.
	Sweep(ctx context.Context) (int, error)
}

type pgStore struct {
	pool   *pgxpool.Pool
	tables *pg.TableNames
	logger *slog.Logger
}

// New creates a pgx-backed continuation store.
func New(pool *pgxpool.Pool, tables *pg.TableNames, logger *slog.Logger) Store {
	return &pgStore{pool: pool, tables: tables, logger: logger}
}

func (s *pgStore) Create(ctx context.Context, ttl time.Duration) (string, error) {
	id := models.NewOpaqueID()
	now := time.Now()

	query := fmt.Sprintf(
		`INSERT INTO %s (id, created_at, last_access, expires_at) VALUES ($1, $2, $3, $4)`,
		s.tables.Continuations,
	)
	if _, err := s.pool.Exec(ctx, query, id, now, now, now.Add(ttl)); err != nil {
		return "", domain.Wrap(domain.KindInternal, "create continuation", err)
	}
	return id, nil
}

func (s *pgStore) Append(ctx context.Context, continuationID string, turn models.Turn, ttl time.Duration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin append transaction", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	selectQuery := fmt.Sprintf(`SELECT expires_at FROM %s WHERE id = $1 FOR UPDATE`, s.tables.Continuations)
	var expiresAt time.Time
	if err := tx.QueryRow(ctx, selectQuery, continuationID).Scan(&expiresAt); err != nil {
		if pg.IsNoRows(err) {
			return domain.New(domain.KindUnknownContinuation, "continuation not found")
		}
		return domain.Wrap(domain.KindInternal, "lookup continuation", err)
	}
	if now.After(expiresAt) {
		return domain.New(domain.KindUnknownContinuation, "continuation expired")
	}

	fileRefs, err := json.Marshal(turn.FileRefs)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal file refs", err)
	}

	insertQuery := fmt.Sprintf(
		`INSERT INTO %s (continuation_id, role, content, tool_name, file_refs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.tables.Turns,
	)
	if _, err := tx.Exec(ctx, insertQuery, continuationID, turn.Role, turn.Content, turn.ToolName, fileRefs, turn.Timestamp); err != nil {
		return domain.Wrap(domain.KindInternal, "insert turn", err)
	}

	updateQuery := fmt.Sprintf(
		`UPDATE %s SET last_access = $1, expires_at = $2 WHERE id = $3`,
		s.tables.Continuations,
	)
	if _, err := tx.Exec(ctx, updateQuery, now, now.Add(ttl), continuationID); err != nil {
		return domain.Wrap(domain.KindInternal, "refresh continuation ttl", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Wrap(domain.KindInternal, "commit append", err)
	}
	return nil
}

func (s *pgStore) Load(ctx context.Context, continuationID string) (*models.Continuation, error) {
	selectQuery := fmt.Sprintf(
		`SELECT id, created_at, last_access, expires_at FROM %s WHERE id = $1`,
		s.tables.Continuations,
	)
	c := &models.Continuation{ID: continuationID}
	if err := s.pool.QueryRow(ctx, selectQuery, continuationID).Scan(&c.ID, &c.CreatedAt, &c.LastAccess, &c.ExpiresAt); err != nil {
		if pg.IsNoRows(err) {
			return nil, domain.New(domain.KindUnknownContinuation, "continuation not found")
		}
		return nil, domain.Wrap(domain.KindInternal, "lookup continuation", err)
	}
	if c.Expired(time.Now()) {
		return nil, domain.New(domain.KindUnknownContinuation, "continuation expired")
	}

	turnsQuery := fmt.Sprintf(
		`SELECT role, content, tool_name, file_refs, created_at FROM %s WHERE continuation_id = $1 ORDER BY created_at ASC`,
		s.tables.Turns,
	)
	rows, err := s.pool.Query(ctx, turnsQuery, continuationID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "load turns", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Turn
		var toolName *string
		var fileRefsRaw []byte
		if err := rows.Scan(&t.Role, &t.Content, &toolName, &fileRefsRaw, &t.Timestamp); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "scan turn", err)
		}
		if toolName != nil {
			t.ToolName = *toolName
		}
		if len(fileRefsRaw) > 0 {
			_ = json.Unmarshal(fileRefsRaw, &t.FileRefs)
		}
		c.Turns = append(c.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "iterate turns", err)
	}

	return c, nil
}

func (s *pgStore) Sweep(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, s.tables.Continuations)
	tag, err := s.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, domain.Wrap(domain.KindInternal, "sweep continuations", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.logger.Info("continuations swept", "count", n)
	}
	return n, nil
}

// RunSweeper starts a background goroutine sweeping expired
// continuations on interval until ctx is cancelled.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := store.Sweep(ctx); err != nil {
					logger.Error("continuation sweep failed", "error", err)
				}
			}
		}
	}()
}
