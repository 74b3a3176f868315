package repositories

import (
	"fmt"
	"strings"

	domain "github.com/finitefield/order-desk/internal/domain"
)

// NormalizeProduct validates identifiers of a product about to be imported and copies
// product level attributes onto SKUs that leave them blank. SKU documents carry these
// fields themselves so order transactions never read the product document.
func NormalizeProduct(product domain.Product) (domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	skus := make([]domain.SKU, len(product.SKUs))
	for i, sku := range product.SKUs {
		sku.ProductID = product.ID
		if sku.ProductNumber == "" {
			sku.ProductNumber = product.ProductNumber
		}
		if sku.ProductName == "" {
			sku.ProductName = product.ProductName
		}
		if sku.DisplayName == "" {
			sku.DisplayName = product.DisplayName
		}
		if sku.SalePrice == 0 {
			sku.SalePrice = product.SalePrice
		}
		if sku.CostPrice == 0 {
			sku.CostPrice = product.CostPrice
		}
		sku.IsHem = sku.IsHem || product.IsHem
		skus[i] = sku
	}
	product.SKUs = skus
	return product, nil
}

func validateProduct(product domain.Product) error {
	invalid := func(format string, args ...any) error {
		return NewOrderError(OrderErrorInvalidInput, fmt.Sprintf(format, args...), nil)
	}
	if !validDocumentID(product.ID) {
		return invalid("invalid product id %q", product.ID)
	}
	if len(product.SKUs) == 0 {
		return invalid("product %s has no skus", product.ID)
	}
	seen := make(map[string]struct{}, len(product.SKUs))
	for _, sku := range product.SKUs {
		if !validDocumentID(sku.ID) {
			return invalid("product %s has invalid sku id %q", product.ID, sku.ID)
		}
		if _, dup := seen[sku.ID]; dup {
			return invalid("product %s lists sku %s twice", product.ID, sku.ID)
		}
		seen[sku.ID] = struct{}{}
	}
	return nil
}

func validDocumentID(id string) bool {
	return id != "" && strings.TrimSpace(id) == id && !strings.Contains(id, "/")
}
