package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// PlaceOrderRequest: запрос на оформление заказа из корзины.
// Денежные поля приходят от клиента и сервером не пересчитываются.
type PlaceOrderRequest struct {
	Credential string
	// ClientKey идентифицирует клиента для лимитера (например, IP). Если ключ пуст, используется сессия.
	ClientKey           string
	AddressID           string
	Items               []domain.LineItem
	PromoCode           string
	Subtotal            decimal.Decimal
	TaxAmount           decimal.Decimal
	ShippingCost        decimal.Decimal
	PromoDiscount       decimal.Decimal
	Total               decimal.Decimal
	SubscribeNewsletter bool
}

// PlaceOrderResult: идентификаторы созданного заказа.
type PlaceOrderResult struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// Orchestrator выполняет сагу оформления заказа:
// rate limit → validating → authenticating → resolving address → reserving stock →
// persisting order → clearing cart → notifying.
//
// Отказ до сохранения заказа прерывает сагу и возвращается вызывающему.
// После сохранения все шаги best-effort: сбой логируется и пишется в timeline,
// но заказ считается оформленным.
type Orchestrator struct {
	deps    Dependencies
	cfg     Config
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	tracer  trace.Tracer
	now     func() time.Time
	intN    func(n int) int

	notifications sync.WaitGroup
}

// NewOrchestrator создаёт сагу оформления заказа.
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) *Orchestrator {
	o := defaultOrchestrator(deps, cfg)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlaceOrder оформляет заказ. Возвращает номер заказа либо ошибку этапа, на котором сага прервалась.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (result PlaceOrderResult, err error) {
	start := o.now()
	o.metrics.RecordCheckoutStarted()
	defer func() { o.metrics.RecordCheckoutFinished(o.now().Sub(start)) }()

	ctx, span := o.tracer.Start(ctx, "checkout.PlaceOrder")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("checkout.order_number", result.OrderNumber))
		}
		span.End()
	}()

	if err := o.stage(ctx, domain.StageRateLimit, func(ctx context.Context) error {
		return o.checkRateLimit(ctx, req)
	}); err != nil {
		return PlaceOrderResult{}, err
	}

	if err := o.stage(ctx, domain.StageValidating, func(context.Context) error {
		return validateRequest(req)
	}); err != nil {
		return PlaceOrderResult{}, err
	}

	var identity domain.Identity
	if err := o.stage(ctx, domain.StageAuthenticating, func(ctx context.Context) error {
		var err error
		identity, err = o.authenticate(ctx, req.Credential)
		return err
	}); err != nil {
		return PlaceOrderResult{}, err
	}

	var address domain.Address
	if err := o.stage(ctx, domain.StageResolvingAddress, func(ctx context.Context) error {
		var err error
		address, err = o.deps.Addresses.Get(ctx, identity.ID, req.AddressID)
		if err != nil && !errors.Is(err, domain.ErrAddressNotFound) {
			return fmt.Errorf("resolve address: %w", err)
		}
		return err
	}); err != nil {
		return PlaceOrderResult{}, err
	}

	// С начала резервирования отмена запроса клиентом не прерывает сагу:
	// иначе остатки могли бы остаться списанными без заказа.
	commitCtx := context.WithoutCancel(ctx)

	if err := o.stage(commitCtx, domain.StageReservingStock, func(ctx context.Context) error {
		return o.deps.Inventory.DecrementStock(ctx, req.Items)
	}); err != nil {
		return PlaceOrderResult{}, err
	}

	var order domain.Order
	if err := o.stage(commitCtx, domain.StagePersistingOrder, func(ctx context.Context) error {
		var err error
		order, err = o.persist(ctx, req, identity, address)
		return err
	}); err != nil {
		return PlaceOrderResult{}, err
	}

	o.metrics.RecordCheckoutCompleted()
	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"customer_id":  identity.ID,
		"items":        len(order.Lines),
	}).Info("order placed")

	_ = o.stage(commitCtx, domain.StageClearingCart, func(ctx context.Context) error {
		o.clearCart(ctx, order)
		return nil
	})
	o.emitEvent(commitCtx, order, domain.TimelineOrderPlaced, "", newOrderPlacedPayload(order))
	o.notifyAsync(commitCtx, order, identity, req.SubscribeNewsletter)

	return PlaceOrderResult{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

// stage выполняет этап саги в отдельном span и пишет метрики длительности и отказов.
func (o *Orchestrator) stage(ctx context.Context, stage domain.CheckoutStage, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "checkout."+string(stage),
		trace.WithAttributes(attribute.String("checkout.stage", string(stage))))
	defer span.End()

	start := o.now()
	err := fn(ctx)
	o.metrics.RecordStageDuration(string(stage), o.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordCheckoutFailed(string(stage))
		o.logger.WithError(err).WithField("stage", stage).Warn("checkout aborted")
	}
	return err
}

func (o *Orchestrator) checkRateLimit(ctx context.Context, req PlaceOrderRequest) error {
	if o.deps.Limiter == nil {
		return nil
	}
	identifier := rateLimitIdentifier(req)
	decision, err := o.deps.Limiter.Allow(ctx, identifier, o.cfg.RateLimit, o.cfg.RateWindow)
	if err != nil {
		o.logger.WithError(err).WithField("identifier", identifier).Warn("rate limiter failed, allowing request")
		return nil
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: retry after %s", domain.ErrTooManyRequests, decision.ResetAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// rateLimitIdentifier не отдаёт токен сессии в хранилище счётчиков в открытом виде.
func rateLimitIdentifier(req PlaceOrderRequest) string {
	if key := strings.TrimSpace(req.ClientKey); key != "" {
		return "client:" + key
	}
	sum := sha256.Sum256([]byte(req.Credential))
	return "session:" + hex.EncodeToString(sum[:8])
}

func validateRequest(req PlaceOrderRequest) error {
	var errs []error
	if len(req.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for i, item := range req.Items {
		for _, err := range item.Validate() {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
		}
	}
	if strings.TrimSpace(req.AddressID) == "" {
		errs = append(errs, domain.ErrAddressRequired)
	}
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"subtotal", req.Subtotal},
		{"tax_amount", req.TaxAmount},
		{"shipping_cost", req.ShippingCost},
		{"promo_discount", req.PromoDiscount},
		{"total", req.Total},
	}
	for _, amount := range amounts {
		if amount.value.IsNegative() {
			errs = append(errs, fmt.Errorf("%s: %w", amount.name, domain.ErrAmountNegative))
		}
	}
	return domain.ValidationError(errs)
}

func (o *Orchestrator) authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	identity, err := o.deps.Sessions.Resolve(ctx, credential)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("resolve session: %w", err)
	}
	return identity, nil
}

// persist сохраняет заказ, перегенерируя номер при конфликте уникальности.
// Любой другой сбой возвращает все зарезервированные остатки.
func (o *Orchestrator) persist(ctx context.Context, req PlaceOrderRequest, identity domain.Identity, address domain.Address) (domain.Order, error) {
	order := o.buildOrder(req, identity, address)

	var err error
	for attempt := 1; attempt <= o.cfg.OrderNumberAttempts; attempt++ {
		order.OrderNumber = o.newOrderNumber()
		err = o.deps.Orders.Create(ctx, order)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrOrderNumberConflict) {
			break
		}
		o.metrics.RecordOrderNumberRetry()
		o.logger.WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"attempt":      attempt,
		}).Warn("order number conflict, regenerating")
	}

	restoreErr := o.deps.Inventory.IncrementStock(ctx, req.Items)
	o.metrics.RecordStockRestore("persist_failed", restoreErr == nil)
	if restoreErr != nil {
		o.logger.WithError(restoreErr).WithField("order_id", order.ID).Error("stock restore after persist failure incomplete")
	}
	return domain.Order{}, fmt.Errorf("persist order: %w", err)
}

func (o *Orchestrator) buildOrder(req PlaceOrderRequest, identity domain.Identity, address domain.Address) domain.Order {
	now := o.now().UTC()
	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.OrderLine{
			ID:        uuid.NewString(),
			ProductID: item.ProductID,
			ColorName: item.ColorName,
			SizeName:  item.SizeName,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			CreatedAt: now,
		})
	}
	return domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      identity.ID,
		Status:          domain.OrderStatusPending,
		ShippingAddress: address.Snapshot(),
		PromoCode:       strings.TrimSpace(req.PromoCode),
		Subtotal:        req.Subtotal,
		TaxAmount:       req.TaxAmount,
		ShippingCost:    req.ShippingCost,
		PromoDiscount:   req.PromoDiscount,
		Total:           req.Total,
		Lines:           lines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (o *Orchestrator) clearCart(ctx context.Context, order domain.Order) {
	if o.deps.Carts == nil {
		return
	}
	if err := o.deps.Carts.Clear(ctx, order.CustomerID); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
		}).Warn("cart clear failed")
		o.metrics.RecordPostCommitFailure("clear_cart")
		o.appendTimeline(ctx, order.ID, domain.TimelineCartClearFailed, err.Error())
	}
}

// CancelOrder отменяет заказ и возвращает остатки. Повторная отмена ничего не делает.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, reason string) (err error) {
	ctx, span := o.tracer.Start(ctx, "checkout.CancelOrder", trace.WithAttributes(attribute.String("checkout.order_id", orderID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(orderID) == "" {
		return domain.ValidationError([]error{domain.ErrOrderIDRequired})
	}

	order, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	changed, err := o.markCancelled(ctx, &order)
	if err != nil {
		return err
	}
	if !changed {
		o.logger.WithField("order_id", order.ID).Debug("order already cancelled")
		return nil
	}
	o.metrics.RecordCancellation()

	commitCtx := context.WithoutCancel(ctx)
	restoreErr := o.deps.Inventory.IncrementStock(commitCtx, order.LineItems())
	o.metrics.RecordStockRestore("cancel", restoreErr == nil)
	if restoreErr != nil {
		o.logger.WithError(restoreErr).WithField("order_id", order.ID).Error("stock restore on cancel incomplete")
		o.appendTimeline(commitCtx, order.ID, domain.TimelineRestockFailed, restoreErr.Error())
	}

	o.emitEvent(commitCtx, order, domain.TimelineOrderCancelled, reason, orderCancelledPayload{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerID:   order.CustomerID,
		Reason:       reason,
		StockRestore: restoreErr == nil,
		CancelledAt:  order.UpdatedAt,
	})
	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"reason":       reason,
	}).Info("order cancelled")
	return nil
}

// markCancelled переводит заказ в CANCELLED с повтором при конфликте версий.
// Возвращает false, если заказ уже был отменён, в том числе параллельным запросом.
func (o *Orchestrator) markCancelled(ctx context.Context, order *domain.Order) (bool, error) {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		if order.Status == domain.OrderStatusCancelled {
			return false, nil
		}
		if !order.Status.Cancellable() {
			return false, fmt.Errorf("%w: status %s", domain.ErrOrderNotCancellable, order.Status)
		}

		updated := *order
		updated.Status = domain.OrderStatusCancelled
		updated.UpdatedAt = o.now().UTC()

		err := o.deps.Orders.Save(ctx, updated)
		if err == nil {
			updated.Version++
			*order = updated
			return true, nil
		}
		if !domain.IsVersionConflict(err) {
			return false, fmt.Errorf("save cancelled order: %w", err)
		}

		o.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		fresh, loadErr := o.deps.Orders.Get(ctx, order.ID)
		if loadErr != nil {
			return false, loadErr
		}
		*order = fresh

		select {
		case <-time.After(baseDelay * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, domain.ErrOrderVersionConflict
}

// GetOrder возвращает заказ и его timeline.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, []domain.TimelineEvent, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, nil, domain.ValidationError([]error{domain.ErrOrderIDRequired})
	}
	order, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	if o.deps.Timeline == nil {
		return order, nil, nil
	}
	events, err := o.deps.Timeline.List(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, fmt.Errorf("list timeline: %w", err)
	}
	return order, events, nil
}

// ListOrders возвращает заказы клиента, которому принадлежит сессия.
func (o *Orchestrator) ListOrders(ctx context.Context, credential string, limit int) ([]domain.Order, error) {
	identity, err := o.authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	return o.deps.Orders.ListByCustomer(ctx, identity.ID, limit)
}

// CheckAvailability проверяет наличие без изменения остатков.
func (o *Orchestrator) CheckAvailability(ctx context.Context, items []domain.LineItem) ([]domain.StockCheckResult, error) {
	var errs []error
	if len(items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for i, item := range items {
		for _, err := range item.Validate() {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
		}
	}
	if err := domain.ValidationError(errs); err != nil {
		return nil, err
	}
	return o.deps.Inventory.CheckAvailability(ctx, items), nil
}

// Shutdown ждёт завершения фоновых уведомлений.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.notifications.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
