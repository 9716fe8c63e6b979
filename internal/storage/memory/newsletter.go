package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// NewsletterSubscriber хранит подписчиков рассылки в памяти.
type NewsletterSubscriber struct {
	mu          sync.RWMutex
	subscribers map[string]string
}

// NewNewsletterSubscriber создаёт пустой список подписчиков.
func NewNewsletterSubscriber() *NewsletterSubscriber {
	return &NewsletterSubscriber{subscribers: make(map[string]string)}
}

// Subscribe добавляет адрес. Повторная подписка ничего не меняет.
func (n *NewsletterSubscriber) Subscribe(_ context.Context, email, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.ErrValidation
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.subscribers[email]; !exists {
		n.subscribers[email] = name
	}
	return nil
}

// Subscribed сообщает, подписан ли адрес.
func (n *NewsletterSubscriber) Subscribed(email string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.subscribers[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

var _ domain.NewsletterSubscriber = (*NewsletterSubscriber)(nil)
