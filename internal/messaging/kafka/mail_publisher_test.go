package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestMailPublisher_Send(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg MailMessage
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.To != "ada@example.com" || msg.EventType != EventTypeMailRequested {
			return fmt.Errorf("unexpected mail: %+v", msg)
		}
		if len(msg.Attachments) != 1 || string(msg.Attachments[0].Content) != "invoice" {
			return fmt.Errorf("attachment lost: %+v", msg.Attachments)
		}
		return nil
	})

	publisher := NewMailPublisher(NewProducerFromSync(mockProducer, nil), "")
	err := publisher.Send(context.Background(), domain.Mail{
		To:      " ada@example.com ",
		Subject: "Commande CMD-1-ABCDEF",
		Body:    "Merci",
		Attachments: []domain.Attachment{
			{Filename: "invoice.txt", ContentType: "text/plain", Content: []byte("invoice")},
		},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMailPublisher_RejectsEmptyRecipient(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewMailPublisher(NewProducerFromSync(mockProducer, nil), TopicMail)

	err := publisher.Send(context.Background(), domain.Mail{Subject: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
