package models

import (
	"crypto/rand"
	"encoding/base64"

	"dispatchd/internal/config"
)

// NewOpaqueID mints an opaque, URL-safe identifier with at least 128 bits
// of cryptographic entropy (spec.md §3 invariant: session/connection/
// continuation ids "contain ≥128 bits of entropy and are URL-safe").
// Session, connection, continuation and workflow ids all go through
// this helper rather than sequential counters or UUIDv4 (122 bits of
// randomness, just under the floor this spec requires).
func NewOpaqueID() string {
	buf := make([]byte, config.MinIDEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is a platform invariant violation, not a
		// recoverable condition worth degrading on.
		panic("domain/models: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
