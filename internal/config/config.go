package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailsync.db"`

	// IMAP connection
	IMAPDialTimeout     time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPConnectAttempts int           `env:"IMAP_CONNECT_ATTEMPTS" envDefault:"5"`
	IMAPRetryBaseDelay  time.Duration `env:"IMAP_RETRY_BASE_DELAY" envDefault:"2s"`
	IMAPRetryMaxDelay   time.Duration `env:"IMAP_RETRY_MAX_DELAY" envDefault:"30s"`
	IMAPMaxConnAge      time.Duration `env:"IMAP_MAX_CONN_AGE" envDefault:"10m"`

	// Connection pool
	PoolSize         int           `env:"IMAP_POOL_SIZE" envDefault:"4"`
	PoolIdleTimeout  time.Duration `env:"IMAP_POOL_IDLE_TIMEOUT" envDefault:"5m"`
	ThrottleCooldown time.Duration `env:"IMAP_THROTTLE_COOLDOWN" envDefault:"5m"`

	// Fetch batching
	MinBatchSize    int           `env:"FETCH_MIN_BATCH_SIZE" envDefault:"5"`
	MaxBatchSize    int           `env:"FETCH_MAX_BATCH_SIZE" envDefault:"50"`
	BatchDelay      time.Duration `env:"FETCH_BATCH_DELAY" envDefault:"1s"`
	ErrorCeiling    int           `env:"FETCH_ERROR_CEILING" envDefault:"5"`
	RefreshInterval time.Duration `env:"FETCH_REFRESH_INTERVAL" envDefault:"5m"`

	// Parsing
	PreviewLength int `env:"BODY_PREVIEW_LENGTH" envDefault:"1000"`

	// Sync
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	LockDir      string        `env:"SYNC_LOCK_DIR"` // defaults to os.TempDir()

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MinBatchSize < 1 || cfg.MaxBatchSize < cfg.MinBatchSize {
		return nil, fmt.Errorf("invalid batch bounds: min=%d max=%d", cfg.MinBatchSize, cfg.MaxBatchSize)
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("IMAP_POOL_SIZE must be at least 1, got %d", cfg.PoolSize)
	}

	return cfg, nil
}
