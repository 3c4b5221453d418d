package models

import "time"

// Session is an authenticated WebSocket session (spec.md §3). Many
// connections may share a session; the session is what carries activity
// tracking and the per-session concurrency gate.
type Session struct {
	ID              string
	CreatedAt       time.Time
	LastActivity    time.Time
	AuthPrincipal   string
	ConcurrencyMax  int
	InFlight        int
}

// Connection is a single transport binding onto a session.
type Connection struct {
	ID        string
	SessionID string
}

// Expired reports whether the session should be swept: idle past its TTL
// with nothing in flight (§4.8 sweep rule).
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return s.InFlight == 0 && now.Sub(s.LastActivity) > ttl
}
