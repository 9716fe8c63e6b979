package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CartRepository хранит корзины клиентов в памяти.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string][]domain.LineItem
}

// NewCartRepository создаёт пустое хранилище корзин.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]domain.LineItem)}
}

// Set заменяет содержимое корзины клиента.
func (r *CartRepository) Set(_ context.Context, customerID string, items []domain.LineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[customerID] = append([]domain.LineItem(nil), items...)
	return nil
}

// Items возвращает копию корзины.
func (r *CartRepository) Items(_ context.Context, customerID string) ([]domain.LineItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.LineItem(nil), r.carts[customerID]...), nil
}

// Clear очищает корзину. Пустая корзина не считается ошибкой.
func (r *CartRepository) Clear(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, customerID)
	return nil
}

var _ domain.CartRepository = (*CartRepository)(nil)
