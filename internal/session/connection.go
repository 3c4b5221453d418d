package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
)

// connEntry tracks one transport binding and its per-connection
// concurrency gate (§4.8: "a per-connection semaphore bounds in-flight
// requests on a single socket independently of the session gate").
type connEntry struct {
	conn *models.Connection
	gate *semaphore.Weighted
}

// Connections tracks live WebSocket connections bound to sessions.
// Kept separate from Manager because a connection's lifetime is the
// transport's, not the session's: a session can outlive the connection
// that opened it (reconnect with the same session_id is out of scope
// per spec.md, but the separation keeps the two gates independent).
type Connections struct {
	mu          sync.RWMutex
	byID        map[string]*connEntry
	concurrency int
}

// NewConnections creates a connection tracker with the given
// per-connection concurrency limit.
func NewConnections(concurrency int) *Connections {
	return &Connections{
		byID:        make(map[string]*connEntry),
		concurrency: concurrency,
	}
}

// Open registers a new connection bound to sessionID.
func (c *Connections) Open(sessionID string) *models.Connection {
	conn := &models.Connection{
		ID:        models.NewOpaqueID(),
		SessionID: sessionID,
	}

	c.mu.Lock()
	c.byID[conn.ID] = &connEntry{
		conn: conn,
		gate: semaphore.NewWeighted(int64(c.concurrency)),
	}
	c.mu.Unlock()
	return conn
}

// Close drops a connection's tracking entry (called on socket close).
func (c *Connections) Close(connID string) {
	c.mu.Lock()
	delete(c.byID, connID)
	c.mu.Unlock()
}

// Acquire blocks until a per-connection concurrency slot is free.
func (c *Connections) Acquire(ctx context.Context, connID string) error {
	c.mu.RLock()
	e, ok := c.byID[connID]
	c.mu.RUnlock()
	if !ok {
		return domain.New(domain.KindInternal, "unknown connection")
	}
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return domain.Wrap(domain.KindBusy, "connection concurrency limit reached", err)
	}
	return nil
}

// Release frees a per-connection concurrency slot.
func (c *Connections) Release(connID string) {
	c.mu.RLock()
	e, ok := c.byID[connID]
	c.mu.RUnlock()
	if ok {
		e.gate.Release(1)
	}
}

// Count returns the number of currently open connections.
func (c *Connections) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
