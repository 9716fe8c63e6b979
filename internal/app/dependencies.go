package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/mongo"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	"github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	// expiredDeleter nil, если хранилище ключей чистит себя само (Redis TTL).
	expiredDeleter idempotency.ExpiredDeleter

	carts      domain.CartRepository
	sessions   domain.SessionResolver
	addresses  domain.AddressBook
	newsletter domain.NewsletterSubscriber
	variants   domain.VariantStore
	limiter    domain.RateLimiter

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies подключает хранилища. При ошибке уже открытые соединения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	if err := initOrderStorage(ctx, cfg, logger, deps); err != nil {
		return nil, err
	}
	if err := initInventoryStorage(ctx, cfg, logger, deps); err != nil {
		return nil, err
	}
	if err := initRedis(ctx, cfg, logger, deps); err != nil {
		return nil, err
	}
	return deps, nil
}

func initOrderStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		idem := memory.NewIdempotencyRepository()
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = idem
		deps.expiredDeleter = idem
		deps.carts = memory.NewCartRepository()
		deps.sessions = memory.NewSessionResolver()
		deps.addresses = memory.NewAddressBook()
		deps.newsletter = memory.NewNewsletterSubscriber()
		logger.Info("using in-memory order storage")
		return nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		idem := postgres.NewIdempotencyRepository(store)
		customers := postgres.NewCustomerRepository(store)
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = idem
		deps.expiredDeleter = idem
		deps.carts = customers
		deps.sessions = customers
		deps.addresses = customers
		deps.newsletter = customers
		deps.checkers[store.Name()] = healthcheck.NewPingChecker(store)
		logger.Info("using postgres order storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initInventoryStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch strings.ToLower(strings.TrimSpace(cfg.InventoryDriver)) {
	case "", InventoryDriverMemory:
		deps.variants = memory.NewVariantStore()
		logger.Info("using in-memory inventory store")
		return nil

	case InventoryDriverMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return errors.New("mongo uri is required for mongo inventory driver")
		}
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		deps.closers = append(deps.closers, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return store.Close(closeCtx)
		})
		deps.variants = store
		deps.checkers[store.Name()] = healthcheck.NewPingChecker(store)
		logger.WithField("database", cfg.MongoDatabase).Info("using mongo inventory store")
		return nil

	default:
		return fmt.Errorf("unsupported inventory driver %q", cfg.InventoryDriver)
	}
}

// initRedis подключает лимитер и кэш idempotency-key. Без адреса работает in-memory лимитер.
func initRedis(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		deps.limiter = memory.NewRateLimiter()
		return nil
	}

	client, err := redis.NewClient(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	deps.closers = append(deps.closers, client.Close)

	deps.limiter = redis.NewRateLimiter(client.Client, logger.WithField("component", "rate-limiter"))
	deps.idempotencyRepo = redis.NewIdempotencyRepository(client.Client)
	deps.expiredDeleter = nil
	// Лимитер пропускает запросы при недоступном Redis, поэтому проверка необязательная.
	deps.checkers[client.Name()] = healthcheck.NewOptionalPingChecker(client)
	logger.WithField("addr", addr).Info("using redis rate limiter and idempotency cache")
	return nil
}
