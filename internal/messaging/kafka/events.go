package kafka

import "time"

// EventType определяет тип события в Kafka.
type EventType string

const (
	EventTypeOrderPlaced    EventType = "order.placed"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeMailRequested  EventType = "mail.requested"
	EventTypeCancelRequest  EventType = "order.cancel_requested"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicMail            = "checkout.mail"
	TopicCancellations   = "checkout.order.cancellations"
	TopicDeadLetterQueue = "checkout.dlq"
)

// Kafka headers для retry логики и DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// MailAttachment: вложение письма. Content кодируется в base64 стандартным json.
type MailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// MailMessage: письмо, поставленное в очередь на отправку почтовым воркером.
type MailMessage struct {
	EventType   EventType        `json:"event_type"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Attachments []MailAttachment `json:"attachments,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
}

// CancellationRequest: входящая команда на отмену заказа.
type CancellationRequest struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// DeadLetter: сообщение, не обработанное после всех попыток.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}
