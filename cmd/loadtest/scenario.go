package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const idempotencyHeader = "idempotency-key"

type checkoutClient interface {
	PlaceOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CheckAvailability(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func (cfg config) item() map[string]any {
	return map[string]any{
		"product_id": cfg.productID,
		"color":      cfg.color,
		"size":       cfg.size,
		"quantity":   cfg.quantity,
		"unit_price": cfg.unitPrice.StringFixed(2),
	}
}

func (cfg config) placeOrderRequest() (*structpb.Struct, error) {
	subtotal := cfg.unitPrice.Mul(decimal.NewFromInt(int64(cfg.quantity))).StringFixed(2)
	return structpb.NewStruct(map[string]any{
		"address_id":     cfg.addressID,
		"items":          []any{cfg.item()},
		"subtotal":       subtotal,
		"tax_amount":     "0.00",
		"shipping_cost":  "0.00",
		"promo_discount": "0.00",
		"total":          subtotal,
	})
}

// runScenario выполняет один сценарий и пишет в collector каждый вызов и сценарий целиком.
func runScenario(ctx context.Context, client checkoutClient, cfg config, runID string, index int, col *collector) (err error) {
	start := time.Now()
	defer func() { col.record(scenarioMetric, time.Since(start), codeOf(err)) }()

	if cfg.mode == modeAvailability {
		req, err := structpb.NewStruct(map[string]any{"items": []any{cfg.item()}})
		if err != nil {
			return err
		}
		_, err = call(ctx, cfg, "CheckAvailability", "", col, func(ctx context.Context) (*structpb.Struct, error) {
			return client.CheckAvailability(ctx, req)
		})
		return err
	}

	req, err := cfg.placeOrderRequest()
	if err != nil {
		return err
	}
	placed, err := call(ctx, cfg, "PlaceOrder", fmt.Sprintf("lt-place-%s-%d", runID, index), col, func(ctx context.Context) (*structpb.Struct, error) {
		return client.PlaceOrder(ctx, req)
	})
	if err != nil {
		return err
	}
	orderID := placed.GetFields()["order_id"].GetStringValue()
	if orderID == "" {
		return status.Error(codes.Internal, "place order returned empty order_id")
	}
	if cfg.mode != modePlaceCancel {
		return nil
	}

	cancelReq, err := structpb.NewStruct(map[string]any{"order_id": orderID, "reason": "load test"})
	if err != nil {
		return err
	}
	_, err = call(ctx, cfg, "CancelOrder", fmt.Sprintf("lt-cancel-%s-%d", runID, index), col, func(ctx context.Context) (*structpb.Struct, error) {
		return client.CancelOrder(ctx, cancelReq)
	})
	return err
}

func call(
	parent context.Context,
	cfg config,
	name, idemKey string,
	col *collector,
	fn func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(parent, cfg.timeout)
	defer cancel()

	if cfg.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+cfg.token)
	}
	if idemKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, idemKey)
	}

	start := time.Now()
	resp, err := fn(ctx)
	col.record(name, time.Since(start), codeOf(err))
	return resp, err
}

func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return status.Code(err)
	}
}
