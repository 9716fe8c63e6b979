package app

import (
	"context"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer deps.close(log.WithField("test", "memory-storage"))

	if deps.repo == nil || deps.outboxRepo == nil || deps.timelineRepo == nil {
		t.Fatal("order storage should be initialized for memory driver")
	}
	if deps.idempotencyRepo == nil || deps.expiredDeleter == nil {
		t.Fatal("memory idempotency store should be initialized and cleanable")
	}
	if deps.carts == nil || deps.sessions == nil || deps.addresses == nil || deps.newsletter == nil {
		t.Fatal("customer collaborators should be initialized for memory driver")
	}
	if deps.variants == nil {
		t.Fatal("inventory store should default to memory")
	}
	if deps.limiter == nil {
		t.Fatal("rate limiter should default to memory without redis")
	}
	if len(deps.checkers) != 0 {
		t.Fatalf("memory storage should not register health checkers, got %d", len(deps.checkers))
	}
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "postgres requires dsn",
			cfg:     Config{StorageDriver: StorageDriverPostgres},
			wantErr: "postgres dsn is required",
		},
		{
			name:    "unsupported storage driver",
			cfg:     Config{StorageDriver: "sqlite"},
			wantErr: "unsupported storage driver",
		},
		{
			name:    "mongo requires uri",
			cfg:     Config{StorageDriver: StorageDriverMemory, InventoryDriver: InventoryDriverMongo},
			wantErr: "mongo uri is required",
		},
		{
			name:    "unsupported inventory driver",
			cfg:     Config{StorageDriver: StorageDriverMemory, InventoryDriver: "dynamo"},
			wantErr: "unsupported inventory driver",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps, err := initRuntimeDependencies(context.Background(), tt.cfg, log.WithField("test", tt.name))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if deps != nil {
				t.Fatal("deps must be nil on error")
			}
		})
	}
}

func TestRuntimeDependencies_CloseInReverseOrder(t *testing.T) {
	t.Parallel()

	var order []string
	deps := &runtimeDependencies{closers: []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "mongo"); return nil },
	}}
	deps.close(log.WithField("test", "close"))

	if strings.Join(order, ",") != "mongo,postgres" {
		t.Fatalf("unexpected close order: %v", order)
	}
	deps.close(log.WithField("test", "close"))
	if len(order) != 2 {
		t.Fatal("second close must be a no-op")
	}
}
