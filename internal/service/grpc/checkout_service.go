package grpcsvc

import (
	"context"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

const (
	authorizationHeader = "authorization"
	forwardedForHeader  = "x-forwarded-for"

	defaultListOrdersLimit = 100
)

// CheckoutAPI: операции оркестратора, доступные через gRPC.
type CheckoutAPI interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (checkout.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, orderID, reason string) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, []domain.TimelineEvent, error)
	ListOrders(ctx context.Context, credential string, limit int) ([]domain.Order, error)
	CheckAvailability(ctx context.Context, items []domain.LineItem) ([]domain.StockCheckResult, error)
}

// CheckoutService реализует checkout.v1.CheckoutService поверх оркестратора.
type CheckoutService struct {
	api      CheckoutAPI
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	now      func() time.Time
}

var _ CheckoutServer = (*CheckoutService)(nil)

// NewCheckoutService конструирует сервис. idemRepo может быть nil.
func NewCheckoutService(api CheckoutAPI, idemRepo domain.IdempotencyRepository, logger *log.Entry) *CheckoutService {
	if logger == nil {
		logger = log.New().WithField("component", "checkout-grpc")
	}
	return &CheckoutService{
		api:      api,
		idemRepo: idemRepo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder оформляет заказ. Повтор с тем же idempotency-key возвращает прежний ответ.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in placeOrderRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}

	return s.withIdempotency(ctx, methodPlaceOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		result, err := s.api.PlaceOrder(ctx, checkout.PlaceOrderRequest{
			Credential:          bearerToken(ctx),
			ClientKey:           clientKey(ctx),
			AddressID:           in.AddressID,
			Items:               lineItemsToDomain(in.Items),
			PromoCode:           in.PromoCode,
			Subtotal:            in.Subtotal,
			TaxAmount:           in.TaxAmount,
			ShippingCost:        in.ShippingCost,
			PromoDiscount:       in.PromoDiscount,
			Total:               in.Total,
			SubscribeNewsletter: in.SubscribeNewsletter,
		})
		if err != nil {
			return nil, s.fail(methodPlaceOrder, err)
		}
		return s.respond(map[string]any{
			"order_id":     result.OrderID,
			"order_number": result.OrderNumber,
		})
	})
}

// CancelOrder отменяет заказ и возвращает остатки на склад.
func (s *CheckoutService) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in cancelOrderRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	return s.withIdempotency(ctx, methodCancelOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		if err := s.api.CancelOrder(ctx, in.OrderID, in.Reason); err != nil {
			return nil, s.fail(methodCancelOrder, err)
		}
		return s.respond(map[string]any{
			"order_id": in.OrderID,
			"status":   string(domain.OrderStatusCancelled),
		})
	})
}

// CheckAvailability проверяет наличие позиций без резервирования.
func (s *CheckoutService) CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in checkAvailabilityRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}

	results, err := s.api.CheckAvailability(ctx, lineItemsToDomain(in.Items))
	if err != nil {
		return nil, s.fail(methodCheckAvailability, err)
	}
	return s.respond(map[string]any{"results": toStockResultsJSON(results)})
}

func (s *CheckoutService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in getOrderRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, events, err := s.api.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, s.fail(methodGetOrder, err)
	}

	timeline := make([]timelineEventJSON, 0, len(events))
	for _, event := range events {
		timeline = append(timeline, timelineEventJSON{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return s.respond(map[string]any{
		"order":    toOrderJSON(order),
		"timeline": timeline,
	})
}

// ListOrders возвращает заказы клиента, определённого по токену сессии.
func (s *CheckoutService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listOrdersRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 || limit > defaultListOrdersLimit {
		limit = defaultListOrdersLimit
	}

	orders, err := s.api.ListOrders(ctx, bearerToken(ctx), limit)
	if err != nil {
		return nil, s.fail(methodListOrders, err)
	}

	out := make([]orderJSON, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderJSON(order))
	}
	return s.respond(map[string]any{"orders": out})
}

func (s *CheckoutService) respond(v any) (*structpb.Struct, error) {
	out, err := encodeStruct(v)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (s *CheckoutService) fail(method string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.WithError(err).WithField("method", method).Error("checkout call failed")
	}
	return st
}

// bearerToken достаёт токен сессии из заголовка authorization.
func bearerToken(ctx context.Context) string {
	value := metadataValue(ctx, authorizationHeader)
	if len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return value
}

// clientKey: адрес клиента для лимитера: первый x-forwarded-for или адрес peer.
func clientKey(ctx context.Context) string {
	if forwarded := metadataValue(ctx, forwardedForHeader); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
