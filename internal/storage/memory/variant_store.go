package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// VariantStore: in-memory документное хранилище остатков.
// Повторяет семантику MongoDB: чтение без блокировок, запись путей через $set без проверки версии.
type VariantStore struct {
	mu   sync.RWMutex
	docs map[string]domain.ProductVariant
}

// NewVariantStore создаёт хранилище с начальным набором документов.
func NewVariantStore(variants ...domain.ProductVariant) *VariantStore {
	s := &VariantStore{docs: make(map[string]domain.ProductVariant, len(variants))}
	for _, v := range variants {
		s.Put(v)
	}
	return s
}

// Put создаёт или целиком заменяет документ товара.
func (s *VariantStore) Put(variant domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[variant.ProductID] = variant.Clone()
}

// FetchVariant возвращает копию документа.
func (s *VariantStore) FetchVariant(ctx context.Context, productID string) (domain.ProductVariant, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductVariant{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[productID]
	if !ok {
		return domain.ProductVariant{}, domain.ErrProductNotFound
	}
	return doc.Clone(), nil
}

// PatchVariant применяет патч к одному документу. Патч либо применяется целиком, либо не применяется.
func (s *VariantStore) PatchVariant(ctx context.Context, productID string, patch domain.VariantPatch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[productID]
	if !ok {
		return domain.ErrProductNotFound
	}

	updated := doc.Clone()
	for path, value := range patch {
		if err := setPath(&updated, path, value); err != nil {
			return err
		}
	}
	s.docs[productID] = updated
	return nil
}

// setPath поддерживает пути colors.<i>.available и colors.<i>.sizes.<j>.{quantity,available}.
func setPath(doc *domain.ProductVariant, path string, value any) error {
	parts := strings.Split(path, ".")
	if len(parts) < 3 || parts[0] != "colors" {
		return fmt.Errorf("unsupported patch path %q", path)
	}

	ci, err := pathIndex(parts[1], len(doc.Colors))
	if err != nil {
		return fmt.Errorf("patch path %q: %w", path, err)
	}
	color := &doc.Colors[ci]

	if len(parts) == 3 && parts[2] == "available" {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("patch path %q: expected bool, got %T", path, value)
		}
		color.Available = b
		return nil
	}

	if len(parts) != 5 || parts[2] != "sizes" {
		return fmt.Errorf("unsupported patch path %q", path)
	}
	si, err := pathIndex(parts[3], len(color.Sizes))
	if err != nil {
		return fmt.Errorf("patch path %q: %w", path, err)
	}
	size := &color.Sizes[si]

	switch parts[4] {
	case "quantity":
		q, ok := value.(int)
		if !ok {
			return fmt.Errorf("patch path %q: expected int, got %T", path, value)
		}
		size.Quantity = q
	case "available":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("patch path %q: expected bool, got %T", path, value)
		}
		size.Available = b
	default:
		return fmt.Errorf("unsupported patch path %q", path)
	}
	return nil
}

func pathIndex(raw string, length int) (int, error) {
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", raw)
	}
	if idx < 0 || idx >= length {
		return 0, fmt.Errorf("index %d out of range", idx)
	}
	return idx, nil
}

var _ domain.VariantStore = (*VariantStore)(nil)
