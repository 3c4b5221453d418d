package config

import (
	"testing"
	"time"
)

func TestValidateTimeouts(t *testing.T) {
	base := func() *Config {
		return &Config{
			ToolTimeout:   30 * time.Second,
			DaemonTimeout: 45 * time.Second,
			ShimTimeout:   60 * time.Second,
			ClientTimeout: 75 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "correctly ordered timeouts pass",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "tool_timeout exceeding daemon_timeout fails",
			mutate:  func(c *Config) { c.ToolTimeout = 50 * time.Second },
			wantErr: true,
		},
		{
			name:    "shim_timeout exceeding client_timeout fails",
			mutate:  func(c *Config) { c.ShimTimeout = 80 * time.Second },
			wantErr: true,
		},
		{
			name:    "zero tool_timeout fails",
			mutate:  func(c *Config) { c.ToolTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "timeout past the ceiling fails",
			mutate:  func(c *Config) { c.ClientTimeout = 2 * time.Hour },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateTimeouts(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTimeouts() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSuggestedBuffers(t *testing.T) {
	daemon, shim, client := SuggestedBuffers(30 * time.Second)

	if daemon != 45*time.Second {
		t.Errorf("daemon = %s, want 45s", daemon)
	}
	if shim != 60*time.Second {
		t.Errorf("shim = %s, want 60s", shim)
	}
	if client != 75*time.Second {
		t.Errorf("client = %s, want 75s", client)
	}
}
