package app

import (
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if cfg.InventoryDriver != InventoryDriverMemory {
		t.Errorf("expected InventoryDriver %s, got %s", InventoryDriverMemory, cfg.InventoryDriver)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.OutboxPollInterval <= 0 {
		t.Error("expected OutboxPollInterval to be > 0")
	}
	if cfg.OutboxBatchSize <= 0 {
		t.Error("expected OutboxBatchSize to be > 0")
	}
	if cfg.OutboxMaxAttempts <= 0 {
		t.Error("expected OutboxMaxAttempts to be > 0")
	}
	if cfg.OutboxRetryDelay < 0 {
		t.Error("expected OutboxRetryDelay to be >= 0")
	}
	if cfg.OutboxMaxPending <= 0 {
		t.Error("expected OutboxMaxPending to be > 0")
	}
	if cfg.IdempotencyCleanupInterval <= 0 {
		t.Error("expected IdempotencyCleanupInterval to be > 0")
	}
	if cfg.IdempotencyCleanupBatchSize <= 0 {
		t.Error("expected IdempotencyCleanupBatchSize to be > 0")
	}
}

func TestDefaultConfig_CheckoutSettings(t *testing.T) {
	cfg := DefaultConfig().Checkout

	if cfg.RateLimit != 5 || cfg.RateWindow != time.Minute {
		t.Errorf("expected 5 checkouts per minute, got %d per %s", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.OrderNumberAttempts != 3 {
		t.Errorf("expected 3 order number attempts, got %d", cfg.OrderNumberAttempts)
	}
	if cfg.NotifyTimeout <= 0 {
		t.Error("expected NotifyTimeout to be > 0")
	}
}

func TestConfig_Comparison(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()

	if cfg1 != cfg2 {
		t.Error("two DefaultConfig instances should be equal")
	}

	cfg2.GRPCAddr = ":8080"
	if cfg1 == cfg2 {
		t.Error("modified config should not be equal to original")
	}
}
