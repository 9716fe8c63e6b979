package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory
	cfg.KafkaBrokers = ""

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	logger := log.WithField("test", "postgres-init")
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(logger)

	if deps.repo == nil || deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	checker, ok := deps.checkers["postgres"]
	if !ok {
		t.Fatal("expected postgres health checker")
	}
	if check := checker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestShutdownHelpers(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("init memory deps: %v", err)
	}
	shutdownOrchestrator(createOrchestrator(DefaultConfig(), deps, nil, logger), logger)
	shutdownOrchestrator(nil, logger)

	cancelCalled := false
	done := make(chan struct{})
	close(done)
	stopWorkers(func() { cancelCalled = true }, logger, done, nil)
	if !cancelCalled {
		t.Fatal("expected worker cancel func to be called")
	}
	stopWorkers(nil, logger)

	flushTracing(nil, logger)
	flushTracing(func(context.Context) error { return errors.New("exporter down") }, logger)
}

func TestStartIdempotencyCleanup_DisabledForSelfExpiringStore(t *testing.T) {
	if done := startIdempotencyCleanup(context.Background(), DefaultConfig(), nil, log.WithField("test", "cleanup")); done != nil {
		t.Fatal("cleanup worker must not start without a deletable store")
	}
}
