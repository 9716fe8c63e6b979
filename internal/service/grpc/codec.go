package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type lineItemJSON struct {
	ProductID string          `json:"product_id"`
	Color     string          `json:"color"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Name      string          `json:"name,omitempty"`
}

func (l lineItemJSON) toDomain() domain.LineItem {
	return domain.LineItem{
		ProductID: l.ProductID,
		ColorName: l.Color,
		SizeName:  l.Size,
		Quantity:  l.Quantity,
		UnitPrice: l.UnitPrice,
		Name:      l.Name,
	}
}

func lineItemsToDomain(items []lineItemJSON) []domain.LineItem {
	result := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		result = append(result, item.toDomain())
	}
	return result
}

type placeOrderRequest struct {
	AddressID           string          `json:"address_id"`
	Items               []lineItemJSON  `json:"items"`
	PromoCode           string          `json:"promo_code,omitempty"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TaxAmount           decimal.Decimal `json:"tax_amount"`
	ShippingCost        decimal.Decimal `json:"shipping_cost"`
	PromoDiscount       decimal.Decimal `json:"promo_discount"`
	Total               decimal.Decimal `json:"total"`
	SubscribeNewsletter bool            `json:"subscribe_newsletter"`
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type checkAvailabilityRequest struct {
	Items []lineItemJSON `json:"items"`
}

type getOrderRequest struct {
	OrderID string `json:"order_id"`
}

type listOrdersRequest struct {
	Limit int `json:"limit,omitempty"`
}

type stockResultJSON struct {
	ProductID         string `json:"product_id"`
	Color             string `json:"color"`
	Size              string `json:"size"`
	Requested         int    `json:"requested"`
	Available         bool   `json:"available"`
	AvailableQuantity int    `json:"available_quantity"`
	Message           string `json:"message,omitempty"`
}

type orderLineJSON struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type orderJSON struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	CustomerID      string                 `json:"customer_id"`
	Status          string                 `json:"status"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	PromoCode       string                 `json:"promo_code,omitempty"`
	Subtotal        string                 `json:"subtotal"`
	TaxAmount       string                 `json:"tax_amount"`
	ShippingCost    string                 `json:"shipping_cost"`
	PromoDiscount   string                 `json:"promo_discount"`
	Total           string                 `json:"total"`
	Lines           []orderLineJSON        `json:"lines"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

type timelineEventJSON struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// Денежные суммы отдаются строками, чтобы не терять точность в number_value.
func toOrderJSON(order domain.Order) orderJSON {
	lines := make([]orderLineJSON, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineJSON{
			ProductID: line.ProductID,
			Color:     line.ColorName,
			Size:      line.SizeName,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
		})
	}
	return orderJSON{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		Status:          string(order.Status),
		ShippingAddress: order.ShippingAddress,
		PromoCode:       order.PromoCode,
		Subtotal:        order.Subtotal.StringFixed(2),
		TaxAmount:       order.TaxAmount.StringFixed(2),
		ShippingCost:    order.ShippingCost.StringFixed(2),
		PromoDiscount:   order.PromoDiscount.StringFixed(2),
		Total:           order.Total.StringFixed(2),
		Lines:           lines,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toStockResultsJSON(results []domain.StockCheckResult) []stockResultJSON {
	out := make([]stockResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, stockResultJSON{
			ProductID:         r.Item.ProductID,
			Color:             r.Item.ColorName,
			Size:              r.Item.SizeName,
			Requested:         r.Requested,
			Available:         r.Available,
			AvailableQuantity: r.AvailableQuantity,
			Message:           r.Message,
		})
	}
	return out
}

// decodeStruct переносит поля Struct в DTO через JSON.
func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

// toStatus переводит доменную ошибку в gRPC-статус.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var stockErr *domain.StockError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, domain.ErrUnauthorized.Error())
	case errors.Is(err, domain.ErrAddressNotFound):
		return status.Error(codes.NotFound, domain.ErrAddressNotFound.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
	case errors.As(err, &stockErr), errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrTooManyRequests):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrOrderNotCancellable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return status.Error(codes.Aborted, domain.ErrOrderVersionConflict.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
