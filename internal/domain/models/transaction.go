package models

import "time"

// Transaction is a row in the message bus table (§3 Message-bus
// transaction, §6 persistent state layout). Immutable once written;
// soft-deleted after consumption, hard-purged past TTL.
type Transaction struct {
	ID            string     `db:"id"`
	Payload       []byte     `db:"payload"`
	ContentType   string     `db:"content_type"`
	Size          int64      `db:"size"`
	SHA256        string     `db:"sha256"`
	CreatedAt     time.Time  `db:"created_at"`
	ConsumedAt    *time.Time `db:"consumed_at"`
	TTLExpiresAt  time.Time  `db:"ttl_expires_at"`
}

// PointerEnvelope is the small outbound frame sent in lieu of a large
// payload (§6 Pointer envelope).
type PointerEnvelope struct {
	Pointer     string `json:"pointer"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
}
