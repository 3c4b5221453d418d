package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config is the single validated configuration record for the daemon.
// It is computed once, on first use, and obtained only through Get —
// never evaluated at package import.
type Config struct {
	Port        string
	Environment string

	DatabaseURL string
	TablePrefix string

	CORSOrigins string

	AuthBearerSecret string

	// Session manager (§4.8)
	SessionTTL              time.Duration
	SessionCleanupInterval  time.Duration
	SessionMaxConcurrent    int
	SessionConcurrencyMax   int
	ConnectionConcurrencyMax int
	MaxQueueDepth           int
	MaxInboundBytes         int64

	// Timeout hierarchy (§4.1): tool < daemon < shim < client
	ToolTimeout   time.Duration
	DaemonTimeout time.Duration
	ShimTimeout   time.Duration
	ClientTimeout time.Duration

	// Message bus (§4.3)
	MessageBusEnabled          bool
	MessageBusInlineThreshold  int64
	MessageBusTTL              time.Duration
	BreakerFailureThreshold    uint32
	BreakerCooldown            time.Duration

	// Routing (§4.4)
	RoutingComplexityThreshold float64
	RoutingContextThreshold    int

	// Expert validation (§4.7)
	ExpertAnalysisIncludeFiles   bool
	ExpertAnalysisMaxFileSizeKB  int

	DefaultProvider string
	AnthropicAPIKey string

	LogDir      string
	MaxLogFiles int

	Debug bool
}

var (
	once     sync.Once
	current  *Config
	loadErr  error
)

// Get returns the process-wide configuration, loading it lazily on first
// call. If the environment describes an invalid configuration, the error
// is logged and a conservative fallback record is returned instead of
// panicking — the daemon must never crash on import because of bad config.
func Get() *Config {
	once.Do(func() {
		cfg, err := load()
		if err != nil {
			slog.Error("configuration validation failed, falling back to safe defaults", "error", err)
			cfg = fallback()
			loadErr = err
		}
		current = cfg
	})
	return current
}

// LoadErr returns the error (if any) surfaced during the first Get() call.
// Present mainly so tests and the startup log line can report why a
// fallback record is in effect.
func LoadErr() error {
	Get()
	return loadErr
}

// reset clears the memoized config. Test-only; production code never calls this.
func reset() {
	once = sync.Once{}
	current = nil
	loadErr = nil
}

func load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "dev")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		TablePrefix: getTablePrefix(env),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		AuthBearerSecret: getEnv("AUTH_BEARER_TOKEN", ""),

		SessionTTL:               getDuration("SESSION_TIMEOUT_SECS", 3600*time.Second),
		SessionCleanupInterval:   getDuration("SESSION_CLEANUP_INTERVAL", 300*time.Second),
		SessionMaxConcurrent:     getInt("SESSION_MAX_CONCURRENT", 100),
		SessionConcurrencyMax:    getInt("SESSION_CONCURRENCY_MAX", 8),
		ConnectionConcurrencyMax: getInt("CONNECTION_CONCURRENCY_MAX", 4),
		MaxQueueDepth:            getInt("MAX_QUEUE_DEPTH", 32),
		MaxInboundBytes:          getInt64("MAX_INBOUND_BYTES", 10*1024*1024),

		ToolTimeout:   getDuration("TOOL_TIMEOUT_SECS", 60*time.Second),
		DaemonTimeout: getDuration("DAEMON_TIMEOUT_SECS", 90*time.Second),
		ShimTimeout:   getDuration("SHIM_TIMEOUT_SECS", 120*time.Second),
		ClientTimeout: getDuration("CLIENT_TIMEOUT_SECS", 150*time.Second),

		MessageBusEnabled:         getBool("MESSAGE_BUS_ENABLED", false),
		MessageBusInlineThreshold: getInt64("MESSAGE_BUS_INLINE_THRESHOLD_BYTES", 1048576),
		MessageBusTTL:             getDuration("MESSAGE_BUS_TTL_SECS", 86400*time.Second),
		BreakerFailureThreshold:   uint32(getInt("MESSAGE_BUS_BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerCooldown:           getDuration("MESSAGE_BUS_BREAKER_COOLDOWN_SECS", 30*time.Second),

		RoutingComplexityThreshold: getFloat("ROUTING_COMPLEXITY_THRESHOLD", 0.7),
		RoutingContextThreshold:    getInt("ROUTING_CONTEXT_THRESHOLD_TOKENS", 100000),

		ExpertAnalysisIncludeFiles:  getBool("EXPERT_ANALYSIS_INCLUDE_FILES", false),
		ExpertAnalysisMaxFileSizeKB: getInt("EXPERT_ANALYSIS_MAX_FILE_SIZE_KB", 10),

		DefaultProvider: getEnv("DEFAULT_PROVIDER", "anthropic"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		LogDir:      getEnv("LOG_DIR", "logs"),
		MaxLogFiles: getInt("MAX_LOG_FILES", 10),

		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}

	if err := validateTimeouts(cfg); err != nil {
		return nil, err
	}

	warnShortTimeouts(cfg)

	return cfg, nil
}

// fallback returns a conservative configuration used when env validation
// fails: message bus disabled, short but internally consistent timeouts.
func fallback() *Config {
	return &Config{
		Port:                     "8080",
		Environment:              "dev",
		TablePrefix:              "dev_",
		CORSOrigins:              "http://localhost:3000",
		SessionTTL:               3600 * time.Second,
		SessionCleanupInterval:   300 * time.Second,
		SessionMaxConcurrent:     100,
		SessionConcurrencyMax:    8,
		ConnectionConcurrencyMax: 4,
		MaxQueueDepth:            32,
		MaxInboundBytes:          10 * 1024 * 1024,
		ToolTimeout:              30 * time.Second,
		DaemonTimeout:            45 * time.Second,
		ShimTimeout:              60 * time.Second,
		ClientTimeout:            75 * time.Second,
		MessageBusEnabled:        false,
		MessageBusInlineThreshold: 1048576,
		MessageBusTTL:             86400 * time.Second,
		BreakerFailureThreshold:   5,
		BreakerCooldown:           30 * time.Second,
		RoutingComplexityThreshold: 0.7,
		RoutingContextThreshold:    100000,
		DefaultProvider:            "anthropic",
		LogDir:                     "logs",
		MaxLogFiles:                10,
	}
}

func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

func getTablePrefix(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

var errOrdering = func(a, b string, av, bv time.Duration) error {
	return fmt.Errorf("timeout hierarchy violated: %s (%s) must be less than %s (%s)", a, av, b, bv)
}
