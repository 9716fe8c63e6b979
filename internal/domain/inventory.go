package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SizeVariant: размер внутри цвета со своим остатком.
type SizeVariant struct {
	Size      string `bson:"size" json:"size"`
	Quantity  int    `bson:"quantity" json:"quantity"`
	Available bool   `bson:"available" json:"available"`
}

// ColorVariant: цвет товара и список его размеров.
type ColorVariant struct {
	Name      string        `bson:"name" json:"name"`
	Available bool          `bson:"available" json:"available"`
	Sizes     []SizeVariant `bson:"sizes" json:"sizes"`
}

// ProductVariant: документ каталога с остатками по цветам и размерам.
// Документ принадлежит внешнему каталогу, движок только читает его и патчит остатки.
type ProductVariant struct {
	ProductID string         `bson:"productId" json:"product_id"`
	Colors    []ColorVariant `bson:"colors" json:"colors"`
}

// Locate возвращает индексы цвета и размера внутри документа.
// Отсутствующий цвет или размер возвращается как ErrColorNotAvailable / ErrSizeNotAvailable.
func (p ProductVariant) Locate(colorName, sizeName string) (colorIdx, sizeIdx int, err error) {
	colorIdx = -1
	for i, color := range p.Colors {
		if color.Name == colorName {
			colorIdx = i
			break
		}
	}
	if colorIdx < 0 {
		return -1, -1, ErrColorNotAvailable
	}

	for j, size := range p.Colors[colorIdx].Sizes {
		if size.Size == sizeName {
			return colorIdx, j, nil
		}
	}
	return colorIdx, -1, ErrSizeNotAvailable
}

// Clone делает глубокую копию документа.
func (p ProductVariant) Clone() ProductVariant {
	out := ProductVariant{ProductID: p.ProductID, Colors: make([]ColorVariant, len(p.Colors))}
	for i, color := range p.Colors {
		out.Colors[i] = ColorVariant{
			Name:      color.Name,
			Available: color.Available,
			Sizes:     append([]SizeVariant(nil), color.Sizes...),
		}
	}
	return out
}

// VariantPatch: набор путей документа и новых значений для одной записи ($set).
type VariantPatch map[string]any

// SizeStockPatch формирует патч остатка одного размера.
// available всегда выводится из количества: available == quantity > 0.
func SizeStockPatch(colorIdx, sizeIdx, quantity int) VariantPatch {
	prefix := SizePath(colorIdx, sizeIdx)
	return VariantPatch{
		prefix + ".quantity":  quantity,
		prefix + ".available": quantity > 0,
	}
}

// SizePath возвращает путь размера в документе, например "colors.0.sizes.2".
func SizePath(colorIdx, sizeIdx int) string {
	return fmt.Sprintf("colors.%d.sizes.%d", colorIdx, sizeIdx)
}

// LineItem: позиция корзины в запросе на оформление заказа.
type LineItem struct {
	ProductID string
	ColorName string
	SizeName  string
	Quantity  int
	UnitPrice decimal.Decimal
	Name      string
}

// Key возвращает человекочитаемый идентификатор варианта.
func (i LineItem) Key() string {
	return strings.Join([]string{i.ProductID, i.ColorName, i.SizeName}, "/")
}

// Validate проверяет поля позиции.
func (i LineItem) Validate() []error {
	var errs []error
	if strings.TrimSpace(i.ProductID) == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if strings.TrimSpace(i.ColorName) == "" {
		errs = append(errs, ErrColorRequired)
	}
	if strings.TrimSpace(i.SizeName) == "" {
		errs = append(errs, ErrSizeRequired)
	}
	if i.Quantity <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}
	if i.UnitPrice.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}
	return errs
}

// Сообщения StockCheckResult.
const (
	StockMessageProductNotFound  = "product not found"
	StockMessageColorUnavailable = "color not available"
	StockMessageSizeUnavailable  = "size not available"
	StockMessageInsufficient     = "insufficient stock"
	StockMessageStoreUnavailable = "inventory unavailable"
)

// StockCheckResult: результат проверки наличия одной позиции.
type StockCheckResult struct {
	Item              LineItem
	Available         bool
	Requested         int
	AvailableQuantity int
	Message           string
}
