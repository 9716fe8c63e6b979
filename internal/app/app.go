package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/checkout/internal/service/grpc"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/tracing"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает checkout-service и блокируется до отмены ctx или падения gRPC сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithField("build", version.String()).Info("starting checkout-service")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    "checkout-service",
		ServiceVersion: version.GetVersion(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to set up tracing, continuing without export")
	}
	defer flushTracing(shutdownTracing, logger)

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// Без Kafka сервис работает: почта пишется в лог, outbox копится до появления брокера.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	orchestrator := createOrchestrator(cfg, deps, kafkaProducer, logger)
	defer shutdownOrchestrator(orchestrator, logger)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	consumer, err := startCancellationConsumer(workerCtx, cfg, orchestrator, kafkaProducer, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to start cancellation consumer")
	}
	defer stopKafkaConsumer(consumer, logger)

	outboxDone := startOutboxWorker(workerCtx, cfg, deps.outboxRepo, kafkaProducer, logger)
	cleanupDone := startIdempotencyCleanup(workerCtx, cfg, deps.expiredDeleter, logger)
	defer stopWorkers(cancelWorkers, logger, outboxDone, cleanupDone)

	checkoutService := grpcsvc.NewCheckoutService(orchestrator, deps.idempotencyRepo, logger.WithField("layer", "grpc"))
	grpcMetrics := registerGRPCMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterCheckoutServiceServer(grpcServer, checkoutService)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker{repo: deps.outboxRepo, maxPending: cfg.OutboxMaxPending})

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC server listening on %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gRPC server")
		healthServer.Shutdown()
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// startOutboxWorker запускает relay outbox → Kafka. Без producer relay не стартует.
func startOutboxWorker(ctx context.Context, cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) <-chan struct{} {
	if producer == nil {
		logger.Warn("kafka is not configured, outbox relay is disabled")
		return nil
	}

	worker := outbox.NewWorker(
		repo,
		kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	return done
}

// startIdempotencyCleanup запускает очистку ключей, если хранилище не чистит их само.
func startIdempotencyCleanup(ctx context.Context, cfg Config, repo idempotency.ExpiredDeleter, logger *log.Entry) <-chan struct{} {
	if repo == nil {
		return nil
	}

	worker := idempotency.NewCleanupWorker(
		repo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	return done
}

// stopWorkers отменяет фоновые воркеры и ждёт их завершения не дольше shutdownTimeout.
func stopWorkers(cancel context.CancelFunc, logger *log.Entry, done ...<-chan struct{}) {
	if cancel != nil {
		cancel()
	}

	timeout := time.After(shutdownTimeout)
	for _, ch := range done {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-timeout:
			logger.Warn("background worker shutdown timed out")
			return
		}
	}
}

// shutdownOrchestrator дожидается фоновых уведомлений уже оформленных заказов.
func shutdownOrchestrator(o *checkout.Orchestrator, logger *log.Entry) {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("pending notifications were not drained")
	}
}

func flushTracing(shutdown func(context.Context) error, logger *log.Entry) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).Warn("failed to flush traces")
	}
}

// outboxBacklogChecker переводит сервис в degraded, когда relay не успевает за backlog.
type outboxBacklogChecker struct {
	repo       domain.OutboxRepository
	maxPending int
}

func (c outboxBacklogChecker) Check(ctx context.Context) healthcheck.Check {
	start := time.Now()
	check := healthcheck.Check{Name: "outbox", Status: healthcheck.StatusHealthy}

	stats, err := c.repo.Stats(ctx)
	switch {
	case err != nil:
		check.Status = healthcheck.StatusDegraded
		check.Message = err.Error()
	case c.maxPending > 0 && stats.PendingCount > c.maxPending:
		check.Status = healthcheck.StatusDegraded
		check.Message = fmt.Sprintf("pending events %d exceed limit %d", stats.PendingCount, c.maxPending)
	}
	check.DurationMs = time.Since(start).Milliseconds()
	return check
}
