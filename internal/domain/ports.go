package domain

import (
	"context"
	"time"
)

// VariantStore: документное хранилище остатков без транзакций между документами.
// PatchVariant выполняет слепую запись указанных путей, без токена версии.
type VariantStore interface {
	// FetchVariant читает документ товара. ErrProductNotFound, если документа нет.
	FetchVariant(ctx context.Context, productID string) (ProductVariant, error)
	// PatchVariant перезаписывает указанные пути одного документа.
	PatchVariant(ctx context.Context, productID string, patch VariantPatch) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заголовок и позиции. ErrOrderNumberConflict при занятом номере.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// CartRepository: корзина клиента.
type CartRepository interface {
	Clear(ctx context.Context, customerID string) error
}

// SessionResolver превращает учётные данные запроса в клиента.
type SessionResolver interface {
	// Resolve возвращает ErrUnauthorized, если сессия не найдена или истекла.
	Resolve(ctx context.Context, credential string) (Identity, error)
}

// AddressBook: адресная книга клиента.
type AddressBook interface {
	// Get возвращает ErrAddressNotFound, если адрес не принадлежит клиенту.
	Get(ctx context.Context, customerID, addressID string) (Address, error)
}

// InvoiceRenderer формирует документ счёта по заказу.
type InvoiceRenderer interface {
	Render(ctx context.Context, order Order) (Attachment, error)
}

// Mailer отправляет письма.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// NewsletterSubscriber подписывает клиента на рассылку.
type NewsletterSubscriber interface {
	Subscribe(ctx context.Context, email, name string) error
}

// RateLimiter ограничивает частоту оформлений по идентификатору.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (RateLimitDecision, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
}

// CheckoutStage задаёт константы этапов саги для метрик/логов.
type CheckoutStage string

const (
	StageRateLimit        CheckoutStage = "rate_limit"
	StageValidating       CheckoutStage = "validating"
	StageAuthenticating   CheckoutStage = "authenticating"
	StageResolvingAddress CheckoutStage = "resolving_address"
	StageReservingStock   CheckoutStage = "reserving_stock"
	StagePersistingOrder  CheckoutStage = "persisting_order"
	StageClearingCart     CheckoutStage = "clearing_cart"
	StageNotifying        CheckoutStage = "notifying"
	StageDone             CheckoutStage = "done"
	StageCancel           CheckoutStage = "cancel"
	StageRestock          CheckoutStage = "restock"
)

// Attachment: вложение письма.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Mail: письмо клиенту или продавцу.
type Mail struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
