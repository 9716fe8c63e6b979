package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func sampleVariant() domain.ProductVariant {
	return domain.ProductVariant{
		ProductID: "P1",
		Colors: []domain.ColorVariant{
			{Name: "Blanc", Available: true, Sizes: []domain.SizeVariant{{Size: "S", Quantity: 1, Available: true}}},
			{Name: "Noir", Available: true, Sizes: []domain.SizeVariant{
				{Size: "S", Quantity: 0, Available: false},
				{Size: "M", Quantity: 3, Available: true},
			}},
		},
	}
}

func TestProductVariantLocate(t *testing.T) {
	v := sampleVariant()

	ci, si, err := v.Locate("Noir", "M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci != 1 || si != 1 {
		t.Fatalf("expected (1,1), got (%d,%d)", ci, si)
	}

	if _, _, err := v.Locate("Rouge", "M"); !errors.Is(err, domain.ErrColorNotAvailable) {
		t.Fatalf("expected ErrColorNotAvailable, got %v", err)
	}
	if _, _, err := v.Locate("Noir", "XL"); !errors.Is(err, domain.ErrSizeNotAvailable) {
		t.Fatalf("expected ErrSizeNotAvailable, got %v", err)
	}
}

func TestProductVariantCloneIsDeep(t *testing.T) {
	v := sampleVariant()
	c := v.Clone()
	c.Colors[1].Sizes[1].Quantity = 99

	if v.Colors[1].Sizes[1].Quantity != 3 {
		t.Fatalf("clone shares sizes with original")
	}
}

func TestSizeStockPatchDerivesAvailability(t *testing.T) {
	patch := domain.SizeStockPatch(1, 2, 0)
	if patch["colors.1.sizes.2.quantity"] != 0 || patch["colors.1.sizes.2.available"] != false {
		t.Fatalf("unexpected patch %v", patch)
	}

	patch = domain.SizeStockPatch(0, 0, 4)
	if patch["colors.0.sizes.0.quantity"] != 4 || patch["colors.0.sizes.0.available"] != true {
		t.Fatalf("unexpected patch %v", patch)
	}
	if len(patch) != 2 {
		t.Fatalf("patch must touch exactly two paths, got %d", len(patch))
	}
}

func TestLineItemValidate(t *testing.T) {
	item := domain.LineItem{ProductID: "P1", ColorName: "Noir", SizeName: "M", Quantity: 1}
	if errs := item.Validate(); len(errs) != 0 {
		t.Fatalf("expected valid item, got %v", errs)
	}

	item = domain.LineItem{Quantity: -1}
	if errs := item.Validate(); len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %v", errs)
	}
}
