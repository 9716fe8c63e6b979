package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ReadRetry настраивает повтор чтений документа при недоступности хранилища.
// Записи (PatchVariant) не повторяются никогда: повторный патч после фактически
// успешной записи списал бы остаток дважды.
type ReadRetry struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultReadRetry возвращает конфигурацию по умолчанию.
func DefaultReadRetry() ReadRetry {
	return ReadRetry{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReadRetry задаёт политику повторов чтения.
func WithReadRetry(cfg ReadRetry) Option {
	return func(m *Manager) {
		if cfg.MaxAttempts > 0 {
			m.retry = cfg
		}
	}
}

// Manager проверяет и изменяет остатки поверх VariantStore.
//
// Хранилище не даёт ни блокировок, ни compare-and-swap, поэтому каждое списание
// перечитывает документ непосредственно перед патчем. Это сужает окно гонки до пары
// чтение-запись, но не закрывает его: два параллельных списания последней единицы
// могут пройти оба (last-write-wins).
type Manager struct {
	store  domain.VariantStore
	logger *log.Entry
	retry  ReadRetry
}

// NewManager создаёт менеджер остатков.
func NewManager(store domain.VariantStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: log.New().WithField("component", "inventory"),
		retry:  DefaultReadRetry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAvailability проверяет каждую позицию и возвращает результат по каждой,
// не останавливаясь на первой проблеме.
func (m *Manager) CheckAvailability(ctx context.Context, items []domain.LineItem) []domain.StockCheckResult {
	results := make([]domain.StockCheckResult, 0, len(items))
	for _, item := range items {
		results = append(results, m.checkItem(ctx, item))
	}
	return results
}

func (m *Manager) checkItem(ctx context.Context, item domain.LineItem) domain.StockCheckResult {
	result := domain.StockCheckResult{Item: item, Requested: item.Quantity}

	variant, err := m.fetch(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			result.Message = domain.StockMessageProductNotFound
		} else {
			result.Message = domain.StockMessageStoreUnavailable
		}
		return result
	}

	colorIdx, sizeIdx, err := variant.Locate(item.ColorName, item.SizeName)
	if err != nil {
		if errors.Is(err, domain.ErrColorNotAvailable) {
			result.Message = domain.StockMessageColorUnavailable
		} else {
			result.Message = domain.StockMessageSizeUnavailable
		}
		return result
	}

	quantity := variant.Colors[colorIdx].Sizes[sizeIdx].Quantity
	result.AvailableQuantity = quantity
	result.Available = quantity >= item.Quantity
	if !result.Available {
		result.Message = domain.StockMessageInsufficient
	}
	return result
}

// DecrementStock резервирует остатки всех позиций.
//
// Сначала выполняется общая проверка: если хотя бы одна позиция недоступна, ничего
// не меняется и возвращаются ошибки по всем недоступным позициям. Затем позиции
// списываются последовательно. При сбое на позиции N позиции 1..N-1 возвращаются
// через IncrementStock, после чего возвращается ошибка позиции N.
func (m *Manager) DecrementStock(ctx context.Context, items []domain.LineItem) error {
	var unavailable []error
	for _, result := range m.CheckAvailability(ctx, items) {
		if !result.Available {
			unavailable = append(unavailable, stockErrorFromResult(result))
		}
	}
	if len(unavailable) > 0 {
		return errors.Join(unavailable...)
	}

	reserved := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if err := m.decrementItem(ctx, item); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"variant":  item.Key(),
				"reserved": len(reserved),
			}).Warn("stock reservation failed, restoring reserved prefix")
			m.compensate(ctx, reserved)
			return err
		}
		reserved = append(reserved, item)
	}
	return nil
}

func (m *Manager) decrementItem(ctx context.Context, item domain.LineItem) error {
	variant, err := m.fetch(ctx, item.ProductID)
	if err != nil {
		return &domain.StockError{Item: item, Reason: reasonFor(err), Cause: err}
	}

	colorIdx, sizeIdx, err := variant.Locate(item.ColorName, item.SizeName)
	if err != nil {
		return &domain.StockError{Item: item, Reason: reasonFor(err), Cause: err}
	}

	current := variant.Colors[colorIdx].Sizes[sizeIdx].Quantity
	next := current - item.Quantity
	if next < 0 {
		return &domain.StockError{
			Item:      item,
			Available: current,
			Reason:    domain.StockMessageInsufficient,
			Cause:     domain.ErrNegativeStock,
		}
	}

	if err := m.store.PatchVariant(ctx, item.ProductID, domain.SizeStockPatch(colorIdx, sizeIdx, next)); err != nil {
		// Запись могла дойти до хранилища. Такая позиция не попадает в компенсацию,
		// расхождение остаётся в логе для ручной сверки.
		m.logger.WithError(err).WithFields(log.Fields{
			"variant":  item.Key(),
			"quantity": next,
		}).Error("stock patch failed, write outcome unknown")
		return &domain.StockError{Item: item, Available: current, Reason: "patch failed", Cause: err}
	}

	m.logger.WithFields(log.Fields{
		"variant":   item.Key(),
		"requested": item.Quantity,
		"remaining": next,
	}).Debug("stock decremented")
	return nil
}

// IncrementStock возвращает остатки. Ошибка одной позиции не мешает остальным:
// все ошибки логируются и возвращаются вместе.
// Операция не идемпотентна, повторный вызов прибавит количество ещё раз.
func (m *Manager) IncrementStock(ctx context.Context, items []domain.LineItem) error {
	var errs []error
	for _, item := range items {
		if err := m.incrementItem(ctx, item); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"variant":  item.Key(),
				"quantity": item.Quantity,
			}).Error("stock restore failed")
			errs = append(errs, fmt.Errorf("restore %s: %w", item.Key(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) incrementItem(ctx context.Context, item domain.LineItem) error {
	if item.Quantity <= 0 {
		return domain.ErrItemQtyInvalid
	}

	variant, err := m.fetch(ctx, item.ProductID)
	if err != nil {
		return err
	}
	colorIdx, sizeIdx, err := variant.Locate(item.ColorName, item.SizeName)
	if err != nil {
		return err
	}

	next := variant.Colors[colorIdx].Sizes[sizeIdx].Quantity + item.Quantity
	return m.store.PatchVariant(ctx, item.ProductID, domain.SizeStockPatch(colorIdx, sizeIdx, next))
}

// compensate откатывает уже списанный префикс. Отмена контекста вызывающего
// не должна прерывать возврат остатков.
func (m *Manager) compensate(ctx context.Context, reserved []domain.LineItem) {
	if len(reserved) == 0 {
		return
	}
	if err := m.IncrementStock(context.WithoutCancel(ctx), reserved); err != nil {
		m.logger.WithError(err).WithField("items", len(reserved)).Error("stock compensation incomplete")
	}
}

// fetch читает документ с повтором только для ErrStoreUnavailable.
func (m *Manager) fetch(ctx context.Context, productID string) (domain.ProductVariant, error) {
	var variant domain.ProductVariant

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retry.InitialDelay
	b.MaxInterval = m.retry.MaxDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.retry.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		v, err := m.store.FetchVariant(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		variant = v
		return nil
	}, policy, func(err error, delay time.Duration) {
		m.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"delay":      delay,
		}).Warn("inventory read failed, retrying")
	})
	return variant, err
}

func stockErrorFromResult(result domain.StockCheckResult) error {
	var cause error
	switch result.Message {
	case domain.StockMessageProductNotFound:
		cause = domain.ErrProductNotFound
	case domain.StockMessageColorUnavailable:
		cause = domain.ErrColorNotAvailable
	case domain.StockMessageSizeUnavailable:
		cause = domain.ErrSizeNotAvailable
	case domain.StockMessageStoreUnavailable:
		cause = domain.ErrStoreUnavailable
	}
	return &domain.StockError{
		Item:      result.Item,
		Available: result.AvailableQuantity,
		Reason:    result.Message,
		Cause:     cause,
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return domain.StockMessageProductNotFound
	case errors.Is(err, domain.ErrColorNotAvailable):
		return domain.StockMessageColorUnavailable
	case errors.Is(err, domain.ErrSizeNotAvailable):
		return domain.StockMessageSizeUnavailable
	default:
		return domain.StockMessageStoreUnavailable
	}
}
