package notify

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// LogMailer пишет письма в лог вместо отправки. Используется без Kafka.
type LogMailer struct {
	logger *log.Entry
}

// NewLogMailer создаёт mailer для локального запуска.
func NewLogMailer(logger *log.Entry) *LogMailer {
	if logger == nil {
		logger = log.New().WithField("component", "mailer")
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, mail domain.Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(mail.To) == "" {
		return domain.ErrValidation
	}

	names := make([]string, 0, len(mail.Attachments))
	for _, a := range mail.Attachments {
		names = append(names, a.Filename)
	}
	m.logger.WithFields(log.Fields{
		"to":          mail.To,
		"subject":     mail.Subject,
		"attachments": names,
	}).Info("mail sent")
	return nil
}

var _ domain.Mailer = (*LogMailer)(nil)
