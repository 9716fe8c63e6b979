package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/notify"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const (
	token    = "lifecycle-token"
	customer = "cust-lifecycle"
	email    = "carol@example.com"
	seller   = "seller@example.com"
)

type capturedMailer struct {
	mu   sync.Mutex
	sent []domain.Mail
}

func (m *capturedMailer) Send(_ context.Context, mail domain.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

func (m *capturedMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, mail := range m.sent {
		out = append(out, mail.To)
	}
	return out
}

type capturedPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *capturedPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturedPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// CheckoutLifecycleTestSuite проверяет оформление, публикацию событий и отмену через Kafka-обработчик.
type CheckoutLifecycleTestSuite struct {
	suite.Suite
	orchestrator *checkout.Orchestrator
	stock        *memory.VariantStore
	carts        *memory.CartRepository
	newsletter   *memory.NewsletterSubscriber
	mailer       *capturedMailer
	publisher    *capturedPublisher
	worker       *outbox.Worker
	addressID    string
}

func (s *CheckoutLifecycleTestSuite) SetupTest() {
	base := log.New()
	base.SetLevel(log.WarnLevel)
	logger := base.WithField("component", "integration-test")

	s.stock = memory.NewVariantStore(domain.ProductVariant{
		ProductID: "parka",
		Colors: []domain.ColorVariant{{
			Name:      "Navy",
			Available: true,
			Sizes:     []domain.SizeVariant{{Size: "M", Quantity: 3, Available: true}},
		}},
	})

	sessions := memory.NewSessionResolver()
	sessions.Issue(token, domain.Identity{ID: customer, Email: email, Name: "Carol"}, time.Time{})

	addresses := memory.NewAddressBook()
	addr, err := addresses.Add(context.Background(), domain.Address{
		CustomerID: customer,
		FullName:   "Carol Reed",
		Line1:      "5 Quay St",
		City:       "Bristol",
		PostalCode: "BS1 4DJ",
		Country:    "GB",
	})
	s.Require().NoError(err)
	s.addressID = addr.ID

	s.carts = memory.NewCartRepository()
	s.newsletter = memory.NewNewsletterSubscriber()
	s.mailer = &capturedMailer{}
	s.publisher = &capturedPublisher{}
	outboxRepo := memory.NewOutboxRepository()

	cfg := checkout.DefaultConfig()
	cfg.SellerEmail = seller

	s.orchestrator = checkout.NewOrchestrator(checkout.Dependencies{
		Orders:     memory.NewOrderRepository(),
		Carts:      s.carts,
		Sessions:   sessions,
		Addresses:  addresses,
		Inventory:  inventory.NewManager(s.stock, inventory.WithLogger(logger)),
		Invoices:   notify.NewTextInvoiceRenderer(),
		Mailer:     s.mailer,
		Newsletter: s.newsletter,
		Limiter:    memory.NewRateLimiter(),
		Outbox:     outboxRepo,
		Timeline:   memory.NewTimelineRepository(),
	}, cfg, checkout.WithLogger(logger))

	s.worker = outbox.NewWorker(outboxRepo, s.publisher, outbox.WithLogger(logger), outbox.WithRetryBaseDelay(0))
}

func (s *CheckoutLifecycleTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.orchestrator.Shutdown(ctx))
}

func (s *CheckoutLifecycleTestSuite) request(qty int) checkout.PlaceOrderRequest {
	price := decimal.RequireFromString("120.00")
	subtotal := price.Mul(decimal.NewFromInt(int64(qty)))
	return checkout.PlaceOrderRequest{
		Credential: token,
		ClientKey:  "203.0.113.9",
		AddressID:  s.addressID,
		Items: []domain.LineItem{{
			ProductID: "parka",
			ColorName: "Navy",
			SizeName:  "M",
			Quantity:  qty,
			UnitPrice: price,
			Name:      "Parka",
		}},
		Subtotal:            subtotal,
		TaxAmount:           decimal.Zero,
		ShippingCost:        decimal.Zero,
		PromoDiscount:       decimal.Zero,
		Total:               subtotal,
		SubscribeNewsletter: true,
	}
}

func (s *CheckoutLifecycleTestSuite) remaining() int {
	v, err := s.stock.FetchVariant(context.Background(), "parka")
	s.Require().NoError(err)
	return v.Colors[0].Sizes[0].Quantity
}

func cancellationMessage(orderID string) *sarama.ConsumerMessage {
	value, _ := json.Marshal(kafka.CancellationRequest{OrderID: orderID, Reason: "customer request"})
	return &sarama.ConsumerMessage{Topic: kafka.TopicCancellations, Key: []byte(orderID), Value: value}
}

func (s *CheckoutLifecycleTestSuite) TestPlaceThenCancelFromKafka() {
	ctx := context.Background()
	s.Require().NoError(s.carts.Set(ctx, customer, s.request(2).Items))

	placed, err := s.orchestrator.PlaceOrder(ctx, s.request(2))
	s.Require().NoError(err)
	s.True(domain.ValidOrderNumber(placed.OrderNumber))
	s.Equal(1, s.remaining())

	items, err := s.carts.Items(ctx, customer)
	s.Require().NoError(err)
	s.Empty(items)

	s.Equal(1, s.worker.ProcessOnce(ctx))
	s.Equal([]string{domain.TimelineOrderPlaced}, s.publisher.types())

	handler := kafka.NewCancellationHandler(s.orchestrator, nil)
	s.Require().NoError(handler(ctx, cancellationMessage(placed.OrderID)))
	s.Equal(3, s.remaining())

	// Повторная доставка того же запроса не возвращает остатки второй раз.
	s.Require().NoError(handler(ctx, cancellationMessage(placed.OrderID)))
	s.Equal(3, s.remaining())

	order, timeline, err := s.orchestrator.GetOrder(ctx, placed.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, order.Status)
	s.NotEmpty(timeline)

	s.Equal(1, s.worker.ProcessOnce(ctx))
	s.Equal([]string{domain.TimelineOrderPlaced, domain.TimelineOrderCancelled}, s.publisher.types())
}

func (s *CheckoutLifecycleTestSuite) TestUnknownOrderCancellationIsPermanent() {
	handler := kafka.NewCancellationHandler(s.orchestrator, nil)
	err := handler(context.Background(), cancellationMessage("missing-order"))
	s.ErrorIs(err, kafka.ErrPermanent)
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *CheckoutLifecycleTestSuite) TestInsufficientStockLeavesNoTrace() {
	ctx := context.Background()

	_, err := s.orchestrator.PlaceOrder(ctx, s.request(4))
	s.ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(3, s.remaining())

	orders, err := s.orchestrator.ListOrders(ctx, token, 10)
	s.Require().NoError(err)
	s.Empty(orders)
	s.Zero(s.worker.ProcessOnce(ctx))
}

func (s *CheckoutLifecycleTestSuite) TestNotificationsAfterCommit() {
	ctx := context.Background()

	_, err := s.orchestrator.PlaceOrder(ctx, s.request(1))
	s.Require().NoError(err)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Require().NoError(s.orchestrator.Shutdown(shutdownCtx))

	s.ElementsMatch([]string{email, seller}, s.mailer.recipients())
	s.True(s.newsletter.Subscribed(email))
}

func (s *CheckoutLifecycleTestSuite) TestRateLimitCountsRejectedAttempts() {
	ctx := context.Background()

	for i := 0; i < checkout.DefaultConfig().RateLimit; i++ {
		_, err := s.orchestrator.PlaceOrder(ctx, s.request(0))
		s.ErrorIs(err, domain.ErrValidation)
	}

	_, err := s.orchestrator.PlaceOrder(ctx, s.request(1))
	s.ErrorIs(err, domain.ErrTooManyRequests)
	s.Equal(3, s.remaining())
}

func TestCheckoutLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutLifecycleTestSuite))
}
