package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// State store backend: memory, badger, or postgres.
	StateStoreDriver string `envconfig:"STATE_STORE_DRIVER" default:"badger"`
	StateStorePath   string `envconfig:"STATE_STORE_PATH" default:"./data/lingo"`
	DatabaseURL      string `envconfig:"DATABASE_URL" default:""`

	// Retry policy for failed batch sends.
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	RetryExponential bool          `envconfig:"RETRY_EXPONENTIAL" default:"true"`

	// Translation response cache.
	CacheEnabled              bool  `envconfig:"CACHE_ENABLED" default:"true"`
	CacheTTLHours             int   `envconfig:"CACHE_TTL_HOURS" default:"24"`
	CacheMaxEntries           int   `envconfig:"CACHE_MAX_ENTRIES" default:"10000"`
	CacheMaxBytes             int64 `envconfig:"CACHE_MAX_BYTES" default:"52428800"`
	CacheCompressionEnabled   bool  `envconfig:"CACHE_COMPRESSION_ENABLED" default:"true"`
	CacheCompressionThreshold int   `envconfig:"CACHE_COMPRESSION_THRESHOLD" default:"1024"`

	// Character quotas and request-rate admission.
	QuotaMaxCharactersPerMonth  int64   `envconfig:"QUOTA_MAX_CHARS_PER_MONTH" default:"500000"`
	QuotaMaxCharactersPerMinute int64   `envconfig:"QUOTA_MAX_CHARS_PER_MINUTE" default:"1000"`
	QuotaMaxRequestsPerSecond   float64 `envconfig:"QUOTA_MAX_REQUESTS_PER_SECOND" default:"10"`

	// Batch assembly.
	BatchEnabled      bool          `envconfig:"BATCH_ENABLED" default:"true"`
	BatchMaxTexts     int           `envconfig:"BATCH_MAX_TEXTS" default:"25"`
	BatchMaxSizeBytes int           `envconfig:"BATCH_MAX_SIZE_BYTES" default:"30000"`
	BatchMaxWait      time.Duration `envconfig:"BATCH_MAX_WAIT" default:"2s"`
	BatchTickInterval time.Duration `envconfig:"BATCH_TICK_INTERVAL" default:"100ms"`

	// Resilience.
	CircuitFailureThreshold int           `envconfig:"CIRCUIT_FAILURE_THRESHOLD" default:"5"`
	CircuitRecoveryTimeout  time.Duration `envconfig:"CIRCUIT_RECOVERY_TIMEOUT" default:"60s"`
	HealthCheckInterval     time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"30s"`

	// Telemetry.
	TelemetryWindow     time.Duration `envconfig:"TELEMETRY_WINDOW" default:"5m"`
	TelemetryHistoryCap int           `envconfig:"TELEMETRY_HISTORY_CAP" default:"1000"`
	AlertRulesPath      string        `envconfig:"ALERT_RULES_PATH" default:""`

	// Source-language auto-detection for requests without an explicit source.
	LangDetectEnabled bool `envconfig:"LANG_DETECT_ENABLED" default:"true"`

	// HTTP API.
	ServerHost string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ServerPort int    `envconfig:"SERVER_PORT" default:"8091"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StateStoreDriver)) {
	case "memory", "badger":
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STATE_STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STATE_STORE_DRIVER must be memory, badger, or postgres")
	}

	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 0")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY (%s) cannot be below RETRY_BASE_DELAY (%s)", c.RetryMaxDelay, c.RetryBaseDelay)
	}
	if c.CacheTTLHours < 1 {
		return fmt.Errorf("CACHE_TTL_HOURS must be >= 1")
	}
	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be >= 1")
	}
	if c.CacheMaxBytes < 1 {
		return fmt.Errorf("CACHE_MAX_BYTES must be >= 1")
	}
	if c.QuotaMaxCharactersPerMonth < 1 {
		return fmt.Errorf("QUOTA_MAX_CHARS_PER_MONTH must be >= 1")
	}
	if c.QuotaMaxCharactersPerMinute < 1 {
		return fmt.Errorf("QUOTA_MAX_CHARS_PER_MINUTE must be >= 1")
	}
	if c.QuotaMaxRequestsPerSecond <= 0 {
		return fmt.Errorf("QUOTA_MAX_REQUESTS_PER_SECOND must be positive")
	}
	if c.BatchMaxTexts < 1 {
		return fmt.Errorf("BATCH_MAX_TEXTS must be >= 1")
	}
	if c.BatchMaxSizeBytes < 1 {
		return fmt.Errorf("BATCH_MAX_SIZE_BYTES must be >= 1")
	}
	if c.BatchMaxWait <= 0 {
		return fmt.Errorf("BATCH_MAX_WAIT must be positive")
	}
	if c.BatchTickInterval <= 0 {
		return fmt.Errorf("BATCH_TICK_INTERVAL must be positive")
	}
	if c.CircuitFailureThreshold < 1 {
		return fmt.Errorf("CIRCUIT_FAILURE_THRESHOLD must be >= 1")
	}
	if c.CircuitRecoveryTimeout <= 0 {
		return fmt.Errorf("CIRCUIT_RECOVERY_TIMEOUT must be positive")
	}
	if c.TelemetryWindow <= 0 {
		return fmt.Errorf("TELEMETRY_WINDOW must be positive")
	}
	if c.TelemetryHistoryCap < 1 {
		return fmt.Errorf("TELEMETRY_HISTORY_CAP must be >= 1")
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	return nil
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
