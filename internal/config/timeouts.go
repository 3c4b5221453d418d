package config

import (
	"fmt"
	"log/slog"
	"time"
)

// Timeout layers must satisfy a strict ordering (§4.1):
//
//	tool_timeout < daemon_timeout < shim_timeout < client_timeout
//
// with the daemon/shim/client layers acting as buffers of roughly 1.5x,
// 2.0x and 2.5x the tool timeout.
const (
	timeoutCeiling = time.Hour

	daemonBufferRatio = 1.5
	shimBufferRatio   = 2.0
	clientBufferRatio = 2.5

	shortTimeoutWarning = 5 * time.Second
)

// validateTimeouts enforces positivity, an absolute ceiling, and the
// strict ordering across the four layers. On the first violation it
// returns a specific error naming the offending pair, per §4.1.
func validateTimeouts(cfg *Config) error {
	layers := []struct {
		name string
		d    time.Duration
	}{
		{"tool_timeout", cfg.ToolTimeout},
		{"daemon_timeout", cfg.DaemonTimeout},
		{"shim_timeout", cfg.ShimTimeout},
		{"client_timeout", cfg.ClientTimeout},
	}

	for _, l := range layers {
		if l.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", l.name, l.d)
		}
		if l.d > timeoutCeiling {
			return fmt.Errorf("%s exceeds ceiling of %s, got %s", l.name, timeoutCeiling, l.d)
		}
	}

	if !(cfg.ToolTimeout < cfg.DaemonTimeout) {
		return errOrdering("tool_timeout", "daemon_timeout", cfg.ToolTimeout, cfg.DaemonTimeout)
	}
	if !(cfg.DaemonTimeout < cfg.ShimTimeout) {
		return errOrdering("daemon_timeout", "shim_timeout", cfg.DaemonTimeout, cfg.ShimTimeout)
	}
	if !(cfg.ShimTimeout < cfg.ClientTimeout) {
		return errOrdering("shim_timeout", "client_timeout", cfg.ShimTimeout, cfg.ClientTimeout)
	}

	return nil
}

// warnShortTimeouts logs (but does not fail on) a tool timeout configured
// below a sensible floor — almost always a misconfiguration rather than
// an intentional choice.
func warnShortTimeouts(cfg *Config) {
	if cfg.ToolTimeout < shortTimeoutWarning {
		slog.Warn("tool_timeout is unusually short",
			"tool_timeout", cfg.ToolTimeout,
			"floor", shortTimeoutWarning,
		)
	}
}

// SuggestedBuffers returns the daemon/shim/client timeouts derived from a
// tool timeout using the configured buffer ratios. Exposed for tooling
// that wants to propose env values rather than hand-picking them.
func SuggestedBuffers(tool time.Duration) (daemon, shim, client time.Duration) {
	daemon = time.Duration(float64(tool) * daemonBufferRatio)
	shim = time.Duration(float64(tool) * shimBufferRatio)
	client = time.Duration(float64(tool) * clientBufferRatio)
	return
}
