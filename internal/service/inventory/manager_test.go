package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func product(id string, sizes ...domain.SizeVariant) domain.ProductVariant {
	return domain.ProductVariant{
		ProductID: id,
		Colors: []domain.ColorVariant{
			{Name: "Noir", Available: true, Sizes: sizes},
		},
	}
}

func size(name string, qty int) domain.SizeVariant {
	return domain.SizeVariant{Size: name, Quantity: qty, Available: qty > 0}
}

func item(productID, sizeName string, qty int) domain.LineItem {
	return domain.LineItem{
		ProductID: productID,
		ColorName: "Noir",
		SizeName:  sizeName,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString("19.90"),
		Name:      "Tee " + productID,
	}
}

func stockOf(t *testing.T, store domain.VariantStore, productID, sizeName string) domain.SizeVariant {
	t.Helper()
	v, err := store.FetchVariant(context.Background(), productID)
	if err != nil {
		t.Fatalf("fetch %s: %v", productID, err)
	}
	ci, si, err := v.Locate("Noir", sizeName)
	if err != nil {
		t.Fatalf("locate %s/%s: %v", productID, sizeName, err)
	}
	return v.Colors[ci].Sizes[si]
}

func newManager(store domain.VariantStore) *inventory.Manager {
	return inventory.NewManager(store, inventory.WithReadRetry(inventory.ReadRetry{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}))
}

// faultyStore оборачивает хранилище и внедряет сбои.
type faultyStore struct {
	domain.VariantStore

	mu             sync.Mutex
	failPatchFor   string
	patchErr       error
	fetchFailures  int
	fetchCalls     int
	patchCalls     int
	patchBarrier   *sync.WaitGroup
	failedPatchIDs []string
}

func (s *faultyStore) FetchVariant(ctx context.Context, productID string) (domain.ProductVariant, error) {
	s.mu.Lock()
	s.fetchCalls++
	if s.fetchFailures > 0 {
		s.fetchFailures--
		s.mu.Unlock()
		return domain.ProductVariant{}, domain.ErrStoreUnavailable
	}
	s.mu.Unlock()
	return s.VariantStore.FetchVariant(ctx, productID)
}

func (s *faultyStore) PatchVariant(ctx context.Context, productID string, patch domain.VariantPatch) error {
	s.mu.Lock()
	s.patchCalls++
	if productID == s.failPatchFor {
		s.failedPatchIDs = append(s.failedPatchIDs, productID)
		s.mu.Unlock()
		return s.patchErr
	}
	barrier := s.patchBarrier
	s.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	return s.VariantStore.PatchVariant(ctx, productID, patch)
}

func TestManager_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 3)))
	m := newManager(store)

	res := m.CheckAvailability(ctx, []domain.LineItem{item("P1", "M", 2)})
	if len(res) != 1 || !res[0].Available || res[0].AvailableQuantity != 3 || res[0].Requested != 2 {
		t.Fatalf("unexpected first check: %+v", res)
	}

	if err := m.DecrementStock(ctx, []domain.LineItem{item("P1", "M", 2)}); err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	got := stockOf(t, store, "P1", "M")
	if got.Quantity != 1 || !got.Available {
		t.Fatalf("expected quantity 1 available, got %+v", got)
	}

	res = m.CheckAvailability(ctx, []domain.LineItem{item("P1", "M", 2)})
	if res[0].Available || res[0].AvailableQuantity != 1 || res[0].Message != domain.StockMessageInsufficient {
		t.Fatalf("unexpected second check: %+v", res[0])
	}
}

func TestManager_CheckAvailabilityReportsEveryItem(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 1)))
	m := newManager(store)

	wrongColor := item("P1", "M", 1)
	wrongColor.ColorName = "Blanc"

	res := m.CheckAvailability(ctx, []domain.LineItem{
		item("missing", "M", 1),
		wrongColor,
		item("P1", "XL", 1),
		item("P1", "M", 5),
		item("P1", "M", 1),
	})
	want := []string{
		domain.StockMessageProductNotFound,
		domain.StockMessageColorUnavailable,
		domain.StockMessageSizeUnavailable,
		domain.StockMessageInsufficient,
		"",
	}
	if len(res) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(res))
	}
	for i, r := range res {
		if r.Message != want[i] {
			t.Fatalf("result %d: expected message %q, got %q", i, want[i], r.Message)
		}
	}
	if !res[4].Available {
		t.Fatal("last item must be available")
	}
}

func TestManager_ConservationLaw(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("S", 4), size("M", 2)), product("P2", size("L", 7)))
	m := newManager(store)

	items := []domain.LineItem{item("P1", "S", 3), item("P1", "M", 2), item("P2", "L", 1)}
	if err := m.DecrementStock(ctx, items); err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	if got := stockOf(t, store, "P1", "M"); got.Quantity != 0 || got.Available {
		t.Fatalf("expected sold out size, got %+v", got)
	}
	if err := m.IncrementStock(ctx, items); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	for _, tc := range []struct {
		product, size string
		qty           int
	}{{"P1", "S", 4}, {"P1", "M", 2}, {"P2", "L", 7}} {
		got := stockOf(t, store, tc.product, tc.size)
		if got.Quantity != tc.qty || !got.Available {
			t.Fatalf("%s/%s: expected %d available, got %+v", tc.product, tc.size, tc.qty, got)
		}
	}
}

func TestManager_IncrementIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 0)))
	m := newManager(store)

	items := []domain.LineItem{item("P1", "M", 2)}
	for i := 0; i < 2; i++ {
		if err := m.IncrementStock(ctx, items); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	res := m.CheckAvailability(ctx, items)
	if res[0].AvailableQuantity != 4 {
		t.Fatalf("expected quantity 4 after two increments, got %d", res[0].AvailableQuantity)
	}
	if got := stockOf(t, store, "P1", "M"); !got.Available {
		t.Fatal("restored size must be available")
	}
}

func TestManager_NeverOversellsSequentially(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 1)))
	m := newManager(store)

	items := []domain.LineItem{item("P1", "M", 1)}
	if err := m.DecrementStock(ctx, items); err != nil {
		t.Fatalf("first decrement failed: %v", err)
	}

	err := m.DecrementStock(ctx, items)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) || stockErr.Available != 0 || stockErr.Item.SizeName != "M" {
		t.Fatalf("unexpected stock error: %#v", stockErr)
	}
	if got := stockOf(t, store, "P1", "M"); got.Quantity != 0 || got.Available {
		t.Fatalf("quantity must stay at zero, got %+v", got)
	}
}

func TestManager_DecrementPrecheckLeavesStockUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 5)), product("P2", size("S", 1)))
	fs := &faultyStore{VariantStore: store}
	m := newManager(fs)

	err := m.DecrementStock(ctx, []domain.LineItem{item("P1", "M", 2), item("P2", "S", 3), item("P3", "S", 1)})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected missing product to be reported too, got %v", err)
	}
	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) || stockErr.Item.ProductID != "P2" || stockErr.Available != 1 {
		t.Fatalf("expected P2 to be named first, got %#v", stockErr)
	}
	if fs.patchCalls != 0 {
		t.Fatalf("expected no writes, got %d", fs.patchCalls)
	}
}

func TestManager_PartialFailureRestoresPrefix(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(
		product("P1", size("M", 3)),
		product("P2", size("M", 3)),
		product("P3", size("M", 3)),
	)
	patchErr := errors.New("write timeout")
	fs := &faultyStore{VariantStore: store, failPatchFor: "P3", patchErr: patchErr}
	m := newManager(fs)

	err := m.DecrementStock(ctx, []domain.LineItem{item("P1", "M", 1), item("P2", "M", 2), item("P3", "M", 1)})
	if !errors.Is(err, domain.ErrInsufficientStock) || !errors.Is(err, patchErr) {
		t.Fatalf("expected stock error wrapping patch error, got %v", err)
	}
	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) || stockErr.Item.ProductID != "P3" {
		t.Fatalf("expected P3 to be named, got %#v", stockErr)
	}

	for _, id := range []string{"P1", "P2", "P3"} {
		if got := stockOf(t, store, id, "M"); got.Quantity != 3 {
			t.Fatalf("%s: expected quantity restored to 3, got %d", id, got.Quantity)
		}
	}
	// Сбойный патч не повторяется.
	if len(fs.failedPatchIDs) != 1 {
		t.Fatalf("expected a single patch attempt for P3, got %d", len(fs.failedPatchIDs))
	}
}

func TestManager_RetriesUnavailableReads(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 3)))
	fs := &faultyStore{VariantStore: store, fetchFailures: 2}
	m := newManager(fs)

	res := m.CheckAvailability(ctx, []domain.LineItem{item("P1", "M", 1)})
	if !res[0].Available {
		t.Fatalf("expected read to succeed after retries: %+v", res[0])
	}
	if fs.fetchCalls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", fs.fetchCalls)
	}

	fs.fetchFailures = 10
	res = m.CheckAvailability(ctx, []domain.LineItem{item("P1", "M", 1)})
	if res[0].Available || res[0].Message != domain.StockMessageStoreUnavailable {
		t.Fatalf("expected store unavailable result, got %+v", res[0])
	}
}

func TestManager_IncrementContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 1)), product("P2", size("M", 1)))
	m := newManager(store)

	err := m.IncrementStock(ctx, []domain.LineItem{item("P1", "M", 1), item("gone", "M", 1), item("P2", "M", 2)})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected joined ErrProductNotFound, got %v", err)
	}
	if got := stockOf(t, store, "P1", "M"); got.Quantity != 2 {
		t.Fatalf("P1: expected 2, got %d", got.Quantity)
	}
	if got := stockOf(t, store, "P2", "M"); got.Quantity != 3 {
		t.Fatalf("P2: expected 3, got %d", got.Quantity)
	}
}

// Два параллельных списания последней единицы проходят оба: хранилище не даёт
// compare-and-swap, патч перезаписывает остаток вслепую.
func TestManager_StockRaceWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVariantStore(product("P1", size("M", 1)))
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	fs := &faultyStore{VariantStore: store, patchBarrier: barrier}
	m := newManager(fs)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.DecrementStock(ctx, []domain.LineItem{item("P1", "M", 1)})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("decrement %d: expected both to succeed, got %v", i, err)
		}
	}
	if got := stockOf(t, store, "P1", "M"); got.Quantity != 0 || got.Available {
		t.Fatalf("expected last-write-wins at zero, got %+v", got)
	}
}
