package repositories

import (
	"errors"
	"testing"

	domain "github.com/finitefield/order-desk/internal/domain"
)

func TestNormalizeProductFillsSKUDefaults(t *testing.T) {
	product := domain.Product{
		ID:            "p-100",
		ProductNumber: "W-100",
		ProductName:   "Work jacket",
		SalePrice:     4800,
		CostPrice:     2100,
		IsHem:         true,
		SKUs: []domain.SKU{
			{ID: "sku-m", Size: "M"},
			{ID: "sku-l", Size: "L", SalePrice: 5200, ProductName: "Work jacket (long)"},
		},
	}

	got, err := NormalizeProduct(product)
	if err != nil {
		t.Fatalf("NormalizeProduct: %v", err)
	}
	m := got.SKUs[0]
	if m.ProductID != "p-100" || m.ProductNumber != "W-100" || m.SalePrice != 4800 || m.CostPrice != 2100 || !m.IsHem {
		t.Fatalf("expected product defaults on sku, got %+v", m)
	}
	l := got.SKUs[1]
	if l.SalePrice != 5200 || l.ProductName != "Work jacket (long)" {
		t.Fatalf("expected explicit sku fields to win, got %+v", l)
	}
	if product.SKUs[0].ProductID != "" {
		t.Fatalf("input product must not be mutated")
	}
}

func TestNormalizeProductRejectsInvalidIDs(t *testing.T) {
	cases := map[string]domain.Product{
		"empty product id":  {SKUs: []domain.SKU{{ID: "a"}}},
		"slash product id":  {ID: "a/b", SKUs: []domain.SKU{{ID: "a"}}},
		"no skus":           {ID: "p"},
		"padded sku id":     {ID: "p", SKUs: []domain.SKU{{ID: " a"}}},
		"duplicate sku ids": {ID: "p", SKUs: []domain.SKU{{ID: "a"}, {ID: "a"}}},
	}
	for name, product := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeProduct(product)
			var orderErr *OrderError
			if !errors.As(err, &orderErr) || orderErr.Code != OrderErrorInvalidInput {
				t.Fatalf("expected invalid input error, got %v", err)
			}
		})
	}
}
