package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: общий класс ошибок валидации запроса на оформление.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибки отсутствующих координат варианта товара.
	ErrProductIDRequired = errors.New("product_id is required")
	ErrColorRequired     = errors.New("color is required")
	ErrSizeRequired      = errors.New("size is required")
	// Ошибка отрицательной денежной суммы в заголовке заказа.
	ErrAmountNegative = errors.New("monetary amount must be non-negative")
	// Ошибка отсутствующего адреса доставки в запросе.
	ErrAddressRequired = errors.New("address_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrUnauthorized: сессия не найдена или истекла.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAddressNotFound: адрес не принадлежит клиенту или не существует.
	ErrAddressNotFound = errors.New("address not found")
	// ErrTooManyRequests: лимитер запретил запрос.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrInsufficientStock: бизнес-ошибка резервирования, заказ не создаётся.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNegativeStock: защитная проверка: новый остаток ушёл бы ниже нуля.
	ErrNegativeStock = errors.New("stock would become negative")
	// ErrProductNotFound: документ товара отсутствует в хранилище остатков.
	ErrProductNotFound = errors.New("product not found")
	// ErrColorNotAvailable: цвет отсутствует в документе товара.
	ErrColorNotAvailable = errors.New("color not available")
	// ErrSizeNotAvailable: размер отсутствует в выбранном цвете.
	ErrSizeNotAvailable = errors.New("size not available")
	// ErrStoreUnavailable: сетевая ошибка или таймаут хранилища остатков.
	ErrStoreUnavailable = errors.New("inventory store unavailable")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNumberConflict: номер заказа уже занят, нужно сгенерировать новый.
	ErrOrderNumberConflict = errors.New("order number already exists")
	// ErrOrderNotCancellable: заказ уже отправлен или доставлен.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound: запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: ключ уже используется другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// StockError описывает отказ в резервировании конкретной позиции.
// errors.Is(err, ErrInsufficientStock) всегда истинно, Unwrap отдаёт исходную причину.
type StockError struct {
	Item      LineItem
	Available int
	Reason    string
	Cause     error
}

func (e *StockError) Error() string {
	msg := fmt.Sprintf("insufficient stock for product %s (color %s, size %s): requested %d, available %d",
		e.Item.ProductID, e.Item.ColorName, e.Item.SizeName, e.Item.Quantity, e.Available)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is сопоставляет ошибку с ErrInsufficientStock.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func (e *StockError) Unwrap() error {
	return e.Cause
}

// ValidationError собирает все замечания валидации в одну ошибку класса ErrValidation.
func ValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, относится ли ошибка к конфликту ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
