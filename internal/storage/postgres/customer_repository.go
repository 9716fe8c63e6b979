package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CustomerRepository обслуживает клиентские таблицы: сессии, адреса, корзины и подписчиков.
type CustomerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию клиентских портов.
func NewCustomerRepository(store *Store) *CustomerRepository {
	return &CustomerRepository{db: store.DB()}
}

// IssueSession регистрирует токен сессии клиента.
func (r *CustomerRepository) IssueSession(ctx context.Context, token string, identity domain.Identity, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, customer_id, email, name, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (token) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    email = EXCLUDED.email,
		    name = EXCLUDED.name,
		    expires_at = EXCLUDED.expires_at
	`, token, identity.ID, identity.Email, identity.Name, expiresAt); err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	return nil
}

// Resolve возвращает клиента по живому токену.
func (r *CustomerRepository) Resolve(ctx context.Context, credential string) (domain.Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var identity domain.Identity
	err := r.db.QueryRowContext(ctx, `
		SELECT customer_id, email, name
		FROM sessions
		WHERE token = $1
		  AND expires_at > NOW()
	`, credential).Scan(&identity.ID, &identity.Email, &identity.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Identity{}, domain.ErrUnauthorized
		}
		return domain.Identity{}, fmt.Errorf("resolve session: %w", err)
	}
	return identity, nil
}

// AddAddress сохраняет адрес клиента.
func (r *CustomerRepository) AddAddress(ctx context.Context, addr domain.Address) (domain.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if addr.ID == "" {
		addr.ID = uuid.NewString()
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO addresses (id, customer_id, full_name, line1, line2, city, postal_code, country, phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, addr.ID, addr.CustomerID, addr.FullName, addr.Line1, addr.Line2, addr.City, addr.PostalCode, addr.Country, addr.Phone); err != nil {
		return domain.Address{}, fmt.Errorf("insert address: %w", err)
	}
	return addr, nil
}

// Get реализует AddressBook: адрес другого клиента считается отсутствующим.
func (r *CustomerRepository) Get(ctx context.Context, customerID, addressID string) (domain.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var addr domain.Address
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, full_name, line1, line2, city, postal_code, country, phone
		FROM addresses
		WHERE id = $1
		  AND customer_id = $2
	`, addressID, customerID).Scan(
		&addr.ID, &addr.CustomerID, &addr.FullName, &addr.Line1, &addr.Line2,
		&addr.City, &addr.PostalCode, &addr.Country, &addr.Phone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Address{}, domain.ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("select address: %w", err)
	}
	return addr, nil
}

// AddToCart увеличивает количество варианта в корзине.
func (r *CustomerRepository) AddToCart(ctx context.Context, customerID string, item domain.LineItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (customer_id, product_id, color_name, size_name, quantity)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (customer_id, product_id, color_name, size_name) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, customerID, item.ProductID, item.ColorName, item.SizeName, item.Quantity); err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

// CartSize возвращает число позиций в корзине.
func (r *CustomerRepository) CartSize(ctx context.Context, customerID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_items WHERE customer_id = $1`, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cart items: %w", err)
	}
	return n, nil
}

// Clear реализует CartRepository.
func (r *CustomerRepository) Clear(ctx context.Context, customerID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Subscribe реализует NewsletterSubscriber; повторная подписка не ошибка.
func (r *CustomerRepository) Subscribe(ctx context.Context, email, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.ErrValidation
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_subscribers (email, name)
		VALUES ($1,$2)
		ON CONFLICT (email) DO NOTHING
	`, email, name); err != nil {
		return fmt.Errorf("subscribe newsletter: %w", err)
	}
	return nil
}

var (
	_ domain.SessionResolver      = (*CustomerRepository)(nil)
	_ domain.AddressBook          = (*CustomerRepository)(nil)
	_ domain.CartRepository       = (*CustomerRepository)(nil)
	_ domain.NewsletterSubscriber = (*CustomerRepository)(nil)
)
