package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа витрины.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, товары зарезервированы.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing: продавец собирает заказ.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped: заказ передан в доставку, отмена невозможна.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered: заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled: заказ отменён, остатки возвращены.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Cancellable сообщает, можно ли перевести заказ в CANCELLED.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// orderNumberPattern: формат CMD-<unix millis>-<6 символов base36 в верхнем регистре>.
var orderNumberPattern = regexp.MustCompile(`^CMD-\d+-[A-Z0-9]{6}$`)

// ValidOrderNumber проверяет формат номера заказа.
func ValidOrderNumber(number string) bool {
	return orderNumberPattern.MatchString(number)
}

// ShippingAddress: снимок адреса на момент оформления.
// Последующие изменения адресной книги на заказ не влияют.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// OrderLine: неизменяемый снимок позиции корзины.
type OrderLine struct {
	ID        string
	ProductID string
	ColorName string
	SizeName  string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

// LineItem восстанавливает позицию для компенсации остатков.
func (l OrderLine) LineItem() LineItem {
	return LineItem{
		ProductID: l.ProductID,
		ColorName: l.ColorName,
		SizeName:  l.SizeName,
		Quantity:  l.Quantity,
		UnitPrice: l.UnitPrice,
		Name:      l.Name,
	}
}

// Order агрегирует заголовок заказа и его позиции.
// Денежные поля приходят от клиента и сохраняются как есть.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	Status          OrderStatus
	ShippingAddress ShippingAddress
	PromoCode       string
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingCost    decimal.Decimal
	PromoDiscount   decimal.Decimal
	Total           decimal.Decimal
	Lines           []OrderLine
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItems возвращает позиции заказа в виде LineItem.
func (o *Order) LineItems() []LineItem {
	items := make([]LineItem, 0, len(o.Lines))
	for _, line := range o.Lines {
		items = append(items, line.LineItem())
	}
	return items
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, amount := range []decimal.Decimal{o.Subtotal, o.TaxAmount, o.ShippingCost, o.PromoDiscount, o.Total} {
		if amount.IsNegative() {
			errs = append(errs, ErrAmountNegative)
			break
		}
	}
	for _, line := range o.Lines {
		errs = append(errs, line.LineItem().Validate()...)
	}

	return errs
}

// Identity: аутентифицированный клиент.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Address: запись адресной книги клиента.
type Address struct {
	ID         string
	CustomerID string
	FullName   string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// Snapshot копирует адрес в заказ.
func (a Address) Snapshot() ShippingAddress {
	return ShippingAddress{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// RateLimitDecision: решение лимитера по одному запросу.
type RateLimitDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
