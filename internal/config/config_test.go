package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MinBatchSize != 5 || cfg.MaxBatchSize != 50 {
		t.Errorf("batch bounds = %d..%d, want 5..50", cfg.MinBatchSize, cfg.MaxBatchSize)
	}
	if cfg.ErrorCeiling != 5 {
		t.Errorf("ErrorCeiling = %d, want 5", cfg.ErrorCeiling)
	}
	if cfg.IMAPMaxConnAge != 10*time.Minute {
		t.Errorf("IMAPMaxConnAge = %v, want 10m", cfg.IMAPMaxConnAge)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.PreviewLength != 1000 {
		t.Errorf("PreviewLength = %d, want 1000", cfg.PreviewLength)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want 4", cfg.PoolSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FETCH_MIN_BATCH_SIZE", "10")
	t.Setenv("FETCH_MAX_BATCH_SIZE", "20")
	t.Setenv("SYNC_INTERVAL", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinBatchSize != 10 || cfg.MaxBatchSize != 20 {
		t.Errorf("batch bounds = %d..%d, want 10..20", cfg.MinBatchSize, cfg.MaxBatchSize)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("SyncInterval = %v, want 90s", cfg.SyncInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidBatchBounds(t *testing.T) {
	t.Setenv("FETCH_MIN_BATCH_SIZE", "30")
	t.Setenv("FETCH_MAX_BATCH_SIZE", "10")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted max batch below min batch")
	}
}

func TestLoadRejectsZeroPool(t *testing.T) {
	t.Setenv("IMAP_POOL_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a zero-sized pool")
	}
}
