// Package session implements the session/connection manager (spec.md
// §4.8): authenticated session lifecycle, activity tracking, and the
// per-session concurrency gate. Modeled on the teacher's registry
// pattern (internal/service/llm/registry.go) — a mutex-guarded map
// behind narrow accessor methods, never a package-level singleton.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"dispatchd/internal/auth"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
)

type entry struct {
	session *models.Session
	gate    *semaphore.Weighted
}

// Manager owns every live session. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	verifier auth.Verifier
	logger   *slog.Logger

	sessionTTL           time.Duration
	sessionConcurrency   int
	maxSessionsPerAuth   int
}

// NewManager creates a session manager. verifier authenticates the
// bearer token on open(); sessionConcurrency bounds per-session in-flight
// requests; maxSessionsPerAuth bounds how many concurrently open
// sessions a single auth principal may hold (§4.8 "enforces
// session_max_concurrent at the principal level").
func NewManager(verifier auth.Verifier, sessionTTL time.Duration, sessionConcurrency, maxSessionsPerAuth int, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:           make(map[string]*entry),
		verifier:           verifier,
		logger:             logger,
		sessionTTL:         sessionTTL,
		sessionConcurrency: sessionConcurrency,
		maxSessionsPerAuth: maxSessionsPerAuth,
	}
}

// Open authenticates authToken and creates a new session for its
// principal, rejecting with AuthFailed on an invalid bearer or when the
// principal already holds maxSessionsPerAuth open sessions.
func (m *Manager) Open(authToken string) (*models.Session, error) {
	principal, err := m.verifier.VerifyToken(authToken)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessionsPerAuth > 0 {
		count := 0
		for _, e := range m.sessions {
			if e.session.AuthPrincipal == principal {
				count++
			}
		}
		if count >= m.maxSessionsPerAuth {
			return nil, domain.New(domain.KindAuthFailed, "too many concurrent sessions for principal")
		}
	}

	now := time.Now()
	s := &models.Session{
		ID:             models.NewOpaqueID(),
		CreatedAt:      now,
		LastActivity:   now,
		AuthPrincipal:  principal,
		ConcurrencyMax: m.sessionConcurrency,
	}
	m.sessions[s.ID] = &entry{
		session: s,
		gate:    semaphore.NewWeighted(int64(m.sessionConcurrency)),
	}

	m.logger.Info("session opened", "session_id", s.ID, "auth_principal", principal)
	return s, nil
}

// Touch updates last_activity on every inbound frame (§4.8).
func (m *Manager) Touch(sessionID string) error {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return domain.New(domain.KindAuthFailed, "unknown session")
	}

	m.mu.Lock()
	e.session.LastActivity = time.Now()
	m.mu.Unlock()
	return nil
}

// Get returns the session by id, or AuthFailed if it doesn't exist
// (e.g. it was swept — §4.8, scenario 6: "further frames on the same
// session_id fail with AuthFailed").
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.New(domain.KindAuthFailed, "unknown or expired session")
	}
	return e.session, nil
}

// Acquire blocks (respecting ctx) until a concurrency slot is free, then
// increments in_flight. Every call must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return domain.New(domain.KindAuthFailed, "unknown session")
	}

	if err := e.gate.Acquire(ctx, 1); err != nil {
		return domain.Wrap(domain.KindBusy, "session concurrency limit reached", err)
	}

	m.mu.Lock()
	e.session.InFlight++
	m.mu.Unlock()
	return nil
}

// Release frees a concurrency slot acquired via Acquire. Safe to call
// even if the session has since been swept (no-op in that case).
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if ok {
		e.session.InFlight--
	}
	m.mu.Unlock()

	if ok {
		e.gate.Release(1)
	}
}

// Close explicitly destroys a session (client close), regardless of TTL.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Sweep removes sessions idle past their TTL with nothing in flight.
// Intended to run on a ticker at cleanup_interval (§4.8, default 300s).
func (m *Manager) Sweep() int {
	now := time.Now()
	var swept []string

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.session.Expired(now, m.sessionTTL) {
			swept = append(swept, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range swept {
		m.logger.Info("session swept", "session_id", id)
	}
	return len(swept)
}

// RunSweeper starts a background goroutine that calls Sweep on interval
// until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Debug("sweep removed idle sessions", "count", n)
				}
			}
		}
	}()
}

// Count returns the number of currently open sessions (used by health/metrics).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
