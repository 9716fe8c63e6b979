package app

import (
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	InventoryDriverMemory = "memory"
	InventoryDriverMongo  = "mongo"
)

// Config описывает настройки запуска checkout-service.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	InventoryDriver string
	MongoURI        string
	MongoDatabase   string

	// RedisAddr включает Redis-лимитер и кэш idempotency-key. Без него всё в памяти процесса.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers через запятую. Без брокеров outbox relay не запускается, почта пишется в лог.
	KafkaBrokers       string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending: порог backlog, после которого /healthz отдаёт degraded.
	OutboxMaxPending int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	OTLPEndpoint string
	OTLPInsecure bool

	Checkout checkout.Config
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		InventoryDriver:             InventoryDriverMemory,
		MongoDatabase:               "storefront",
		KafkaConsumerGroup:          "checkout-service",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		OTLPInsecure:                true,
		Checkout:                    checkout.DefaultConfig(),
	}
}
