package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/app"
)

const (
	envLogLevel = "CHECKOUT_LOG_LEVEL"

	envGRPCAddr    = "CHECKOUT_GRPC_ADDR"
	envMetricsAddr = "CHECKOUT_METRICS_ADDR"

	envStorageDriver       = "CHECKOUT_STORAGE_DRIVER"
	envPostgresDSN         = "CHECKOUT_POSTGRES_DSN"
	envPostgresAutoMigrate = "CHECKOUT_POSTGRES_AUTO_MIGRATE"

	envInventoryDriver = "CHECKOUT_INVENTORY_DRIVER"
	envMongoURI        = "CHECKOUT_MONGO_URI"
	envMongoDatabase   = "CHECKOUT_MONGO_DATABASE"

	envRedisAddr     = "CHECKOUT_REDIS_ADDR"
	envRedisPassword = "CHECKOUT_REDIS_PASSWORD"
	envRedisDB       = "CHECKOUT_REDIS_DB"

	envKafkaBrokers       = "CHECKOUT_KAFKA_BROKERS"
	envKafkaConsumerGroup = "CHECKOUT_KAFKA_CONSUMER_GROUP"

	envOutboxPollInterval = "CHECKOUT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "CHECKOUT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "CHECKOUT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "CHECKOUT_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending   = "CHECKOUT_OUTBOX_MAX_PENDING"

	envIdempotencyCleanupInterval  = "CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envOTLPEndpoint = "CHECKOUT_OTLP_ENDPOINT"
	envOTLPInsecure = "CHECKOUT_OTLP_INSECURE"

	envRateLimit           = "CHECKOUT_RATE_LIMIT"
	envRateWindow          = "CHECKOUT_RATE_WINDOW"
	envSellerEmail         = "CHECKOUT_SELLER_EMAIL"
	envOrderNumberAttempts = "CHECKOUT_ORDER_NUMBER_ATTEMPTS"
	envNotifyTimeout       = "CHECKOUT_NOTIFY_TIMEOUT"
)

type envLookup func(string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func nonNegativeInt(v int) bool { return v >= 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv применяет переменные окружения поверх app.DefaultConfig.
// Некорректное значение не останавливает запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v; using default %t", key, v, err, *dst))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, validate func(int) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v; using default %d", key, v, err, *dst))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v; using default %s", key, v, err, *dst))
			return
		}
		*dst = parsed
	}

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	lower(envInventoryDriver, &cfg.InventoryDriver)
	str(envMongoURI, &cfg.MongoURI)
	str(envMongoDatabase, &cfg.MongoDatabase)

	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisPassword, &cfg.RedisPassword)
	integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")

	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	boolean(envOTLPInsecure, &cfg.OTLPInsecure)

	integer(envRateLimit, &cfg.Checkout.RateLimit, positiveInt, "must be > 0")
	duration(envRateWindow, &cfg.Checkout.RateWindow, positiveDuration, "must be > 0")
	str(envSellerEmail, &cfg.Checkout.SellerEmail)
	integer(envOrderNumberAttempts, &cfg.Checkout.OrderNumberAttempts, positiveInt, "must be > 0")
	duration(envNotifyTimeout, &cfg.Checkout.NotifyTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean")
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("%s", msg)
	}
	return value, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("%s", msg)
	}
	return value, nil
}
