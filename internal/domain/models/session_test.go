package models

import (
	"testing"
	"time"
)

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	ttl := time.Hour

	tests := []struct {
		name     string
		session  Session
		want     bool
	}{
		{
			name:    "idle past ttl with nothing in flight expires",
			session: Session{LastActivity: now.Add(-2 * time.Hour), InFlight: 0},
			want:    true,
		},
		{
			name:    "idle past ttl but still in flight does not expire",
			session: Session{LastActivity: now.Add(-2 * time.Hour), InFlight: 1},
			want:    false,
		},
		{
			name:    "recently active does not expire",
			session: Session{LastActivity: now.Add(-time.Minute), InFlight: 0},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Expired(now, ttl); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewOpaqueIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewOpaqueID()
		if seen[id] {
			t.Fatalf("NewOpaqueID produced a collision at iteration %d: %s", i, id)
		}
		seen[id] = true
		if len(id) < 20 {
			t.Errorf("NewOpaqueID() = %q, too short for 128 bits of entropy", id)
		}
	}
}
