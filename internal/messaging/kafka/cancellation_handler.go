package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OrderCanceller: операция отмены заказа с возвратом остатков.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID, reason string) error
}

// NewCancellationHandler возвращает обработчик топика TopicCancellations.
// Неизвестный заказ и заказ, который уже нельзя отменить, не повторяются.
func NewCancellationHandler(canceller OrderCanceller, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.New().WithField("component", "cancellation-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		req, err := ParseCancellationRequest(message)
		if err != nil {
			return err
		}

		err = canceller.CancelOrder(ctx, req.OrderID, req.Reason)
		switch {
		case err == nil:
			logger.WithField("order_id", req.OrderID).Info("order cancelled from kafka request")
			return nil
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrOrderNotCancellable):
			return fmt.Errorf("%w: cancel order %s: %w", ErrPermanent, req.OrderID, err)
		default:
			return fmt.Errorf("cancel order %s: %w", req.OrderID, err)
		}
	}
}
