package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// AddressBook: адресная книга в памяти.
type AddressBook struct {
	mu        sync.RWMutex
	addresses map[string]domain.Address
}

// NewAddressBook создаёт пустую адресную книгу.
func NewAddressBook() *AddressBook {
	return &AddressBook{addresses: make(map[string]domain.Address)}
}

// Add сохраняет адрес и возвращает его с идентификатором.
func (b *AddressBook) Add(_ context.Context, addr domain.Address) (domain.Address, error) {
	if addr.ID == "" {
		addr.ID = uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses[addr.ID] = addr
	return addr, nil
}

// Get возвращает адрес только если он принадлежит клиенту.
func (b *AddressBook) Get(_ context.Context, customerID, addressID string) (domain.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	addr, ok := b.addresses[addressID]
	if !ok || addr.CustomerID != customerID {
		return domain.Address{}, domain.ErrAddressNotFound
	}
	return addr, nil
}

var _ domain.AddressBook = (*AddressBook)(nil)
