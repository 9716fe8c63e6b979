package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MailPublisher ставит письма в очередь TopicMail вместо прямой отправки по SMTP.
// Доставку выполняет отдельный почтовый воркер.
type MailPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewMailPublisher создаёт Mailer поверх Kafka.
func NewMailPublisher(producer *Producer, topic string) *MailPublisher {
	if topic == "" {
		topic = TopicMail
	}
	return &MailPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *MailPublisher) Send(ctx context.Context, mail domain.Mail) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka mail publisher is not initialized")
	}
	to := strings.TrimSpace(mail.To)
	if to == "" {
		return fmt.Errorf("%w: mail recipient is empty", domain.ErrValidation)
	}

	msg := MailMessage{
		EventType:   EventTypeMailRequested,
		To:          to,
		Subject:     mail.Subject,
		Body:        mail.Body,
		RequestedAt: p.now().UTC(),
	}
	for _, a := range mail.Attachments {
		msg.Attachments = append(msg.Attachments, MailAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	if err := p.producer.PublishEvent(ctx, p.topic, to, msg); err != nil {
		return fmt.Errorf("enqueue mail to %s: %w", to, err)
	}
	return nil
}

var _ domain.Mailer = (*MailPublisher)(nil)
