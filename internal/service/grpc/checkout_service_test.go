package grpcsvc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/checkout/internal/service/grpc"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/notify"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const (
	bufSize      = 1024 * 1024
	testToken    = "session-token"
	testCustomer = "cust-42"
)

type testEnv struct {
	client    *grpcsvc.CheckoutClient
	stock     *memory.VariantStore
	addressID string
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := loggerForTests()
	stock := memory.NewVariantStore(domain.ProductVariant{
		ProductID: "hoodie",
		Colors: []domain.ColorVariant{{
			Name:      "Ecru",
			Available: true,
			Sizes:     []domain.SizeVariant{{Size: "S", Quantity: 3, Available: true}},
		}},
	})
	sessions := memory.NewSessionResolver()
	sessions.Issue(testToken, domain.Identity{ID: testCustomer, Email: "bob@example.com", Name: "Bob"}, time.Time{})
	addresses := memory.NewAddressBook()
	addr, err := addresses.Add(context.Background(), domain.Address{
		CustomerID: testCustomer,
		FullName:   "Bob Stone",
		Line1:      "1 Main St",
		City:       "Lyon",
		PostalCode: "69001",
		Country:    "FR",
	})
	require.NoError(t, err)

	orchestrator := checkout.NewOrchestrator(checkout.Dependencies{
		Orders:    memory.NewOrderRepository(),
		Carts:     memory.NewCartRepository(),
		Sessions:  sessions,
		Addresses: addresses,
		Inventory: inventory.NewManager(stock),
		Invoices:  notify.NewTextInvoiceRenderer(),
		Mailer:    notify.NewLogMailer(logger),
		Outbox:    memory.NewOutboxRepository(),
		Timeline:  memory.NewTimelineRepository(),
	}, checkout.DefaultConfig(), checkout.WithLogger(logger))

	service := grpcsvc.NewCheckoutService(orchestrator, memory.NewIdempotencyRepository(), logger)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	grpcsvc.RegisterCheckoutServiceServer(server, service)
	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orchestrator.Shutdown(ctx)
	})

	return &testEnv{
		client:    grpcsvc.NewCheckoutClient(conn),
		stock:     stock,
		addressID: addr.ID,
	}
}

func authCtx(idemKey string) context.Context {
	pairs := []string{"authorization", "Bearer " + testToken, "x-forwarded-for", "198.51.100.4"}
	if idemKey != "" {
		pairs = append(pairs, "idempotency-key", idemKey)
	}
	return metadata.AppendToOutgoingContext(context.Background(), pairs...)
}

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func (e *testEnv) placeOrderRequest(t *testing.T, qty int) *structpb.Struct {
	return mustStruct(t, map[string]any{
		"address_id": e.addressID,
		"items": []any{map[string]any{
			"product_id": "hoodie",
			"color":      "Ecru",
			"size":       "S",
			"quantity":   qty,
			"unit_price": "49.00",
			"name":       "Hoodie",
		}},
		"subtotal":       "49.00",
		"tax_amount":     "9.80",
		"shipping_cost":  "0",
		"promo_discount": "0",
		"total":          "58.80",
	})
}

func (e *testEnv) stockLeft(t *testing.T) int {
	t.Helper()
	v, err := e.stock.FetchVariant(context.Background(), "hoodie")
	require.NoError(t, err)
	return v.Colors[0].Sizes[0].Quantity
}

func TestCheckoutService_PlaceGetCancel(t *testing.T) {
	env := newTestServer(t)

	placed, err := env.client.PlaceOrder(authCtx(""), env.placeOrderRequest(t, 2))
	require.NoError(t, err)
	orderID := placed.Fields["order_id"].GetStringValue()
	require.NotEmpty(t, orderID)
	require.True(t, domain.ValidOrderNumber(placed.Fields["order_number"].GetStringValue()))
	require.Equal(t, 1, env.stockLeft(t))

	got, err := env.client.GetOrder(authCtx(""), mustStruct(t, map[string]any{"order_id": orderID}))
	require.NoError(t, err)
	order := got.Fields["order"].GetStructValue()
	require.Equal(t, "PENDING", order.Fields["status"].GetStringValue())
	require.Equal(t, "58.80", order.Fields["total"].GetStringValue())
	require.NotEmpty(t, got.Fields["timeline"].GetListValue().GetValues())

	cancelled, err := env.client.CancelOrder(authCtx(""), mustStruct(t, map[string]any{"order_id": orderID, "reason": "changed mind"}))
	require.NoError(t, err)
	require.Equal(t, "CANCELLED", cancelled.Fields["status"].GetStringValue())
	require.Equal(t, 3, env.stockLeft(t))

	listed, err := env.client.ListOrders(authCtx(""), mustStruct(t, map[string]any{}))
	require.NoError(t, err)
	require.Len(t, listed.Fields["orders"].GetListValue().GetValues(), 1)
}

func TestCheckoutService_PlaceOrderIdempotentReplay(t *testing.T) {
	env := newTestServer(t)

	first, err := env.client.PlaceOrder(authCtx("idem-1"), env.placeOrderRequest(t, 1))
	require.NoError(t, err)
	second, err := env.client.PlaceOrder(authCtx("idem-1"), env.placeOrderRequest(t, 1))
	require.NoError(t, err)

	require.Equal(t, first.Fields["order_id"].GetStringValue(), second.Fields["order_id"].GetStringValue())
	require.Equal(t, 2, env.stockLeft(t), "replay must not reserve stock again")

	_, err = env.client.PlaceOrder(authCtx("idem-1"), env.placeOrderRequest(t, 2))
	require.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestCheckoutService_ReplaysCachedFailure(t *testing.T) {
	env := newTestServer(t)

	_, err := env.client.PlaceOrder(authCtx("idem-oos"), env.placeOrderRequest(t, 10))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = env.client.PlaceOrder(authCtx("idem-oos"), env.placeOrderRequest(t, 10))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Equal(t, 3, env.stockLeft(t))
}

func TestCheckoutService_ErrorCodes(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "missing session",
			call: func() error {
				_, err := env.client.PlaceOrder(context.Background(), env.placeOrderRequest(t, 1))
				return err
			},
			want: codes.Unauthenticated,
		},
		{
			name: "invalid quantity",
			call: func() error {
				_, err := env.client.PlaceOrder(authCtx(""), env.placeOrderRequest(t, 0))
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown address",
			call: func() error {
				req := env.placeOrderRequest(t, 1)
				req.Fields["address_id"] = structpb.NewStringValue("nope")
				_, err := env.client.PlaceOrder(authCtx(""), req)
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "unknown order",
			call: func() error {
				_, err := env.client.GetOrder(authCtx(""), mustStruct(t, map[string]any{"order_id": "missing"}))
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "cancel without id",
			call: func() error {
				_, err := env.client.CancelOrder(authCtx(""), mustStruct(t, map[string]any{}))
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "malformed items",
			call: func() error {
				req := env.placeOrderRequest(t, 1)
				req.Fields["items"] = structpb.NewStringValue("not-a-list")
				_, err := env.client.PlaceOrder(authCtx(""), req)
				return err
			},
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestCheckoutService_CheckAvailability(t *testing.T) {
	env := newTestServer(t)

	resp, err := env.client.CheckAvailability(context.Background(), mustStruct(t, map[string]any{
		"items": []any{
			map[string]any{"product_id": "hoodie", "color": "Ecru", "size": "S", "quantity": 2, "unit_price": "49.00"},
			map[string]any{"product_id": "hoodie", "color": "Ecru", "size": "S", "quantity": 5, "unit_price": "49.00"},
		},
	}))
	require.NoError(t, err)

	results := resp.Fields["results"].GetListValue().GetValues()
	require.Len(t, results, 2)
	require.True(t, results[0].GetStructValue().Fields["available"].GetBoolValue())
	second := results[1].GetStructValue()
	require.False(t, second.Fields["available"].GetBoolValue())
	require.Equal(t, float64(3), second.Fields["available_quantity"].GetNumberValue())
	require.Equal(t, domain.StockMessageInsufficient, second.Fields["message"].GetStringValue())
}
