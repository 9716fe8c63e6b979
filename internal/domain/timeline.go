package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderPlaced        = "OrderPlaced"
	TimelineOrderCancelled     = "OrderCancelled"
	TimelineRestockFailed      = "RestockFailed"
	TimelineCartClearFailed    = "CartClearFailed"
	TimelineOutboxFailed       = "OutboxEnqueueFailed"
	TimelineNotificationFailed = "NotificationFailed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// Ошибки после фиксации заказа тоже пишутся сюда, чтобы их можно было повторить вручную.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
