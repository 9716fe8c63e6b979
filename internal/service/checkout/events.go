package checkout

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// AggregateOrder: тип агрегата в outbox.
const AggregateOrder = "order"

type eventLine struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type orderPlacedPayload struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  string      `json:"customer_id"`
	Total       string      `json:"total"`
	PromoCode   string      `json:"promo_code,omitempty"`
	Lines       []eventLine `json:"lines"`
	PlacedAt    time.Time   `json:"placed_at"`
}

type orderCancelledPayload struct {
	OrderID      string    `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	CustomerID   string    `json:"customer_id"`
	Reason       string    `json:"reason,omitempty"`
	StockRestore bool      `json:"stock_restored"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

func newOrderPlacedPayload(order domain.Order) orderPlacedPayload {
	lines := make([]eventLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, eventLine{
			ProductID: l.ProductID,
			Color:     l.ColorName,
			Size:      l.SizeName,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
		})
	}
	return orderPlacedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Total:       order.Total.String(),
		PromoCode:   order.PromoCode,
		Lines:       lines,
		PlacedAt:    order.CreatedAt,
	}
}

// emitEvent кладёт событие в outbox и добавляет запись в timeline.
// Обе записи best-effort: заказ уже сохранён, сбой только логируется.
func (o *Orchestrator) emitEvent(ctx context.Context, order domain.Order, eventType, reason string, payload any) {
	if o.deps.Outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("marshal event failed")
		} else if _, err := o.deps.Outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: AggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id":     order.ID,
				"order_number": order.OrderNumber,
				"event":        eventType,
			}).Error("enqueue event failed")
			o.metrics.RecordPostCommitFailure("outbox")
			o.appendTimeline(ctx, order.ID, domain.TimelineOutboxFailed, eventType+": "+err.Error())
		} else {
			o.metrics.RecordOutboxEvent()
		}
	}

	o.appendTimeline(ctx, order.ID, eventType, reason)
}

func (o *Orchestrator) appendTimeline(ctx context.Context, orderID, eventType, reason string) {
	if o.deps.Timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: o.now().UTC(),
	}
	if err := o.deps.Timeline.Append(ctx, event); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("append timeline event failed")
		return
	}
	o.metrics.RecordTimelineEvent()
}
