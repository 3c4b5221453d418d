package session

import (
	"context"
	"testing"
	"time"

	"dispatchd/internal/domain"
)

func TestConnectionsOpenCloseCount(t *testing.T) {
	c := NewConnections(2)

	conn := c.Open("session-1")
	if conn.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want %q", conn.SessionID, "session-1")
	}
	if c.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", c.Count())
	}

	c.Close(conn.ID)
	if c.Count() != 0 {
		t.Errorf("Count() after Close() = %d, want 0", c.Count())
	}
}

func TestConnectionsAcquireUnknownConnectionFails(t *testing.T) {
	c := NewConnections(2)
	err := c.Acquire(context.Background(), "does-not-exist")
	if domain.KindOf(err) != domain.KindInternal {
		t.Errorf("Acquire() error kind = %v, want Internal", domain.KindOf(err))
	}
}

func TestConnectionsAcquireReleaseRespectsLimit(t *testing.T) {
	c := NewConnections(1)
	conn := c.Open("session-1")

	if err := c.Acquire(context.Background(), conn.ID); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Acquire(ctx, conn.ID); err == nil {
		t.Error("expected a second Acquire() to block past the connection's concurrency limit of 1")
	}

	c.Release(conn.ID)
	if err := c.Acquire(context.Background(), conn.ID); err != nil {
		t.Fatalf("Acquire() after Release() unexpected error: %v", err)
	}
}

func TestConnectionsReleaseAfterCloseIsNoOp(t *testing.T) {
	c := NewConnections(1)
	conn := c.Open("session-1")
	c.Close(conn.ID)

	// Must not panic even though the entry is gone.
	c.Release(conn.ID)
}
