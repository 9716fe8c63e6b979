package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CustomerConfirmation собирает письмо-подтверждение клиенту со счётом во вложении.
func CustomerConfirmation(order domain.Order, customer domain.Identity, invoice domain.Attachment) domain.Mail {
	name := customer.Name
	if name == "" {
		name = order.ShippingAddress.FullName
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Bonjour %s,\n\n", name)
	fmt.Fprintf(&body, "Votre commande %s a bien été enregistrée.\n", order.OrderNumber)
	fmt.Fprintf(&body, "Montant total: %s\n\n", order.Total.StringFixed(2))
	body.WriteString("Vous trouverez la facture en pièce jointe.\n")

	return domain.Mail{
		To:          customer.Email,
		Subject:     fmt.Sprintf("Confirmation de commande %s", order.OrderNumber),
		Body:        body.String(),
		Attachments: []domain.Attachment{invoice},
	}
}

// SellerPreparation собирает уведомление продавцу о заказе к сборке.
func SellerPreparation(order domain.Order, sellerEmail string) domain.Mail {
	var body strings.Builder
	fmt.Fprintf(&body, "Commande %s à préparer.\n\n", order.OrderNumber)
	for _, line := range order.Lines {
		fmt.Fprintf(&body, "- %s [%s] %s / %s x%d\n", line.Name, line.ProductID, line.ColorName, line.SizeName, line.Quantity)
	}
	addr := order.ShippingAddress
	fmt.Fprintf(&body, "\nExpédier à: %s, %s, %s %s, %s\n", addr.FullName, addr.Line1, addr.PostalCode, addr.City, addr.Country)

	return domain.Mail{
		To:      sellerEmail,
		Subject: fmt.Sprintf("Nouvelle commande %s", order.OrderNumber),
		Body:    body.String(),
	}
}
