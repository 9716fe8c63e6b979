package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// InvoiceContentType: тип вложения со счётом.
const InvoiceContentType = "text/plain; charset=utf-8"

var invoiceTemplate = template.Must(template.New("invoice").Parse(`FACTURE {{.OrderNumber}}
Date: {{.CreatedAt.Format "2006-01-02 15:04"}}

Livraison:
  {{.ShippingAddress.FullName}}
  {{.ShippingAddress.Line1}}{{if .ShippingAddress.Line2}}
  {{.ShippingAddress.Line2}}{{end}}
  {{.ShippingAddress.PostalCode}} {{.ShippingAddress.City}}
  {{.ShippingAddress.Country}}

Articles:
{{range .Lines}}  {{.Name}} ({{.ColorName}}, {{.SizeName}}) x{{.Quantity}} @ {{.UnitPrice.StringFixed 2}}
{{end}}
Sous-total:  {{.Subtotal.StringFixed 2}}
TVA:         {{.TaxAmount.StringFixed 2}}
Livraison:   {{.ShippingCost.StringFixed 2}}
{{if .PromoCode}}Promo {{.PromoCode}}: -{{.PromoDiscount.StringFixed 2}}
{{end}}Total:       {{.Total.StringFixed 2}}
`))

// TextInvoiceRenderer формирует счёт в виде текстового вложения.
// Вёрстка PDF остаётся за внешним сервисом документов.
type TextInvoiceRenderer struct{}

// NewTextInvoiceRenderer создаёт рендерер счетов.
func NewTextInvoiceRenderer() *TextInvoiceRenderer {
	return &TextInvoiceRenderer{}
}

func (r *TextInvoiceRenderer) Render(ctx context.Context, order domain.Order) (domain.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Attachment{}, err
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, order); err != nil {
		return domain.Attachment{}, fmt.Errorf("render invoice %s: %w", order.OrderNumber, err)
	}
	return domain.Attachment{
		Filename:    fmt.Sprintf("facture-%s.txt", order.OrderNumber),
		ContentType: InvoiceContentType,
		Content:     buf.Bytes(),
	}, nil
}

var _ domain.InvoiceRenderer = (*TextInvoiceRenderer)(nil)
