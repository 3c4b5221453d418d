package models

import "time"

// Turn is one entry in a continuation's ordered history (§3 Continuation).
// File content itself is never stored here — only opaque provider file
// ids — so the store stays bounded regardless of what clients upload.
type Turn struct {
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	ToolName  string    `db:"tool_name" json:"tool_name,omitempty"`
	FileRefs  []string  `db:"file_refs" json:"file_refs,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Continuation is the durable handle to a conversation's turn history.
type Continuation struct {
	ID         string    `db:"id"`
	Turns      []Turn    `db:"-"`
	CreatedAt  time.Time `db:"created_at"`
	LastAccess time.Time `db:"last_access"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// Expired reports whether this continuation is past its idle TTL.
func (c *Continuation) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
