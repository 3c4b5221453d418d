// Package bus implements the message bus client (spec.md §4.3):
// size-gated routing between inline delivery and out-of-band persisted
// transactions, guarded by a single circuit breaker per client. The storage
// shape mirrors the teacher's repository/postgres pattern; the breaker
// itself has no teacher analogue and is grounded on sony/gobreaker as
// used in the kubernaut example repo's notification suite.
package bus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/pg"
)

// Route is the outcome of a routing decision (§4.3 route()).
type Route struct {
	Inline  bool
	Payload []byte

	TransactionID string
	Size          int64
	SHA256        string
	ContentType   string
}

// Bus is the message bus client.
type Bus interface {
	// Route decides inline vs. persisted based on inlineThreshold,
	// storing through the breaker when the payload is too large.
	Route(ctx context.Context, payload []byte, contentType string) (Route, error)

	// Fetch reads a previously stored transaction's payload. Repeated
	// reads within TTL return the same bytes (consumption is idempotent,
	// not destructive).
	Fetch(ctx context.Context, transactionID string) ([]byte, error)

	// Purge deletes transactions past their TTL.
	Purge(ctx context.Context) (int, error)
}

type client struct {
	pool      *pgxpool.Pool
	tables    *pg.TableNames
	logger    *slog.Logger
	breaker   *gobreaker.CircuitBreaker
	inlineMin int64
	ttl       time.Duration
	enabled   bool
}

// New creates a message bus client backed by pool, gated by a gobreaker
// circuit breaker with the given failure threshold and cooldown
// (§4.3: "N consecutive failures → open; cooldown seconds; 1 probe on
// timer expiry" maps directly onto gobreaker's ConsecutiveFailures /
// Timeout / half-open single-probe semantics). When enabled is false
// (MESSAGE_BUS_ENABLED=false, the documented default — §6), Route
// never attempts to persist: oversized payloads behave exactly as they
// would with the breaker permanently open, since there is no configured
// backend to store them in.
func New(pool *pgxpool.Pool, tables *pg.TableNames, enabled bool, inlineThreshold int64, ttl time.Duration, failureThreshold uint32, cooldown time.Duration, logger *slog.Logger) Bus {
	settings := gobreaker.Settings{
		Name:        "message-bus",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("message bus breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &client{
		pool:      pool,
		tables:    tables,
		logger:    logger,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		inlineMin: inlineThreshold,
		ttl:       ttl,
		enabled:   enabled,
	}
}

func (c *client) Route(ctx context.Context, payload []byte, contentType string) (Route, error) {
	if int64(len(payload)) < c.inlineMin {
		return Route{Inline: true, Payload: payload}, nil
	}
	if !c.enabled {
		return Route{}, domain.New(domain.KindPayloadBusDown, "message bus disabled, oversized payload rejected")
	}

	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.store(ctx, payload, contentType, hash)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Route{}, domain.New(domain.KindPayloadBusDown, "message bus circuit open, oversized payload rejected")
		}
		return Route{}, domain.Wrap(domain.KindBusUnavailable, "message bus store failed", err)
	}

	txID := result.(string)
	return Route{
		TransactionID: txID,
		Size:          int64(len(payload)),
		SHA256:        hash,
		ContentType:   contentType,
	}, nil
}

func (c *client) store(ctx context.Context, payload []byte, contentType, hash string) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	query := fmt.Sprintf(
		`INSERT INTO %s (id, payload, content_type, size, sha256, created_at, ttl_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.tables.Transactions,
	)
	if _, err := c.pool.Exec(ctx, query, id, payload, contentType, len(payload), hash, now, now.Add(c.ttl)); err != nil {
		return "", err
	}
	return id, nil
}

func (c *client) Fetch(ctx context.Context, transactionID string) ([]byte, error) {
	if !c.enabled {
		return nil, domain.New(domain.KindBusUnavailable, "message bus disabled")
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, transactionID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.New(domain.KindBusUnavailable, "message bus circuit open")
		}
		if derr, ok := err.(*domain.Error); ok {
			return nil, derr
		}
		return nil, domain.Wrap(domain.KindBusUnavailable, "message bus fetch failed", err)
	}
	return result.([]byte), nil
}

func (c *client) fetch(ctx context.Context, transactionID string) ([]byte, error) {
	query := fmt.Sprintf(
		`SELECT payload, ttl_expires_at FROM %s WHERE id = $1`,
		c.tables.Transactions,
	)
	var payload []byte
	var expiresAt time.Time
	if err := c.pool.QueryRow(ctx, query, transactionID).Scan(&payload, &expiresAt); err != nil {
		if pg.IsNoRows(err) {
			return nil, domain.New(domain.KindInvalidInput, "unknown transaction")
		}
		return nil, err
	}
	if time.Now().After(expiresAt) {
		return nil, domain.New(domain.KindInvalidInput, "transaction expired")
	}

	markQuery := fmt.Sprintf(`UPDATE %s SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`, c.tables.Transactions)
	if _, err := c.pool.Exec(ctx, markQuery, time.Now(), transactionID); err != nil {
		c.logger.Warn("failed to mark transaction consumed", "transaction_id", transactionID, "error", err)
	}

	return payload, nil
}

func (c *client) Purge(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE ttl_expires_at < $1`, c.tables.Transactions)
	tag, err := c.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, domain.Wrap(domain.KindInternal, "purge transactions", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		c.logger.Info("transactions purged", "count", n)
	}
	return n, nil
}

// RunPurger starts a background goroutine purging expired transactions
// on interval until ctx is cancelled.
func RunPurger(ctx context.Context, b Bus, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Purge(ctx); err != nil {
					logger.Error("bus purge failed", "error", err)
				}
			}
		}
	}()
}

// PointerEnvelope builds the client-facing pointer frame for a routed
// transaction (§6 pointer envelope).
func PointerEnvelope(r Route) *models.PointerEnvelope {
	if r.Inline {
		return nil
	}
	return &models.PointerEnvelope{
		Pointer:     r.TransactionID,
		Size:        r.Size,
		SHA256:      r.SHA256,
		ContentType: r.ContentType,
	}
}
