package checkout

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/tracing"
)

// StockManager: операции над остатками, которые использует сага.
type StockManager interface {
	CheckAvailability(ctx context.Context, items []domain.LineItem) []domain.StockCheckResult
	DecrementStock(ctx context.Context, items []domain.LineItem) error
	IncrementStock(ctx context.Context, items []domain.LineItem) error
}

// Dependencies: коллабораторы саги. RateLimiter, Outbox, Timeline, Invoices,
// Mailer и Newsletter необязательны: без них соответствующий шаг пропускается.
type Dependencies struct {
	Orders     domain.OrderRepository
	Carts      domain.CartRepository
	Sessions   domain.SessionResolver
	Addresses  domain.AddressBook
	Inventory  StockManager
	Invoices   domain.InvoiceRenderer
	Mailer     domain.Mailer
	Newsletter domain.NewsletterSubscriber
	Limiter    domain.RateLimiter
	Outbox     domain.OutboxRepository
	Timeline   domain.TimelineRepository
}

// Config: параметры саги.
type Config struct {
	// RateLimit попыток оформления за RateWindow на один идентификатор.
	RateLimit  int
	RateWindow time.Duration
	// SellerEmail получает уведомление о подготовке заказа, если задан.
	SellerEmail string
	// OrderNumberAttempts: сколько раз генерировать номер при конфликте уникальности.
	OrderNumberAttempts int
	// NotifyTimeout ограничивает фоновые уведомления одного заказа.
	NotifyTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		RateLimit:           5,
		RateWindow:          time.Minute,
		OrderNumberAttempts: 3,
		NotifyTimeout:       30 * time.Second,
	}
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает Prometheus-метрики саги.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer задаёт трейсер вместо глобального.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRandom подменяет генератор случайного суффикса номера заказа.
func WithRandom(intN func(n int) int) Option {
	return func(o *Orchestrator) {
		if intN != nil {
			o.intN = intN
		}
	}
}

func defaultOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.OrderNumberAttempts <= 0 {
		cfg.OrderNumberAttempts = def.OrderNumberAttempts
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: log.New().WithField("component", "checkout"),
		tracer: otel.Tracer(tracing.InstrumentationName),
		now:    time.Now,
		intN:   rand.Intn,
	}
}
