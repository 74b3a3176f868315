package services

import (
	"context"
	"fmt"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/repositories"
)

// skuMatchLimit is two so that a duplicate id under another product is detected rather than
// resolved by ordering alone.
const skuMatchLimit = 2

type lineKey struct {
	productID string
	skuID     string
}

// catalogResolver finds SKU records inside one transaction attempt. It must not outlive the
// attempt: the memo holds reads that are only valid for that attempt's snapshot.
type catalogResolver struct {
	tx   repositories.OrderTx
	memo map[lineKey]domain.SKU
}

func newCatalogResolver(tx repositories.OrderTx) *catalogResolver {
	return &catalogResolver{tx: tx, memo: make(map[lineKey]domain.SKU)}
}

// Resolve returns the SKU for the line. Qualified lines are point reads; bare SKU ids go
// through the collection group lookup ordered by id then sortNum.
func (r *catalogResolver) Resolve(ctx context.Context, line draftLine) (domain.SKU, error) {
	key := line.key()
	if sku, ok := r.memo[key]; ok {
		return sku, nil
	}

	var (
		sku domain.SKU
		err error
	)
	if line.productID != "" {
		sku, err = r.tx.GetSKU(ctx, domain.SKURef{ProductID: line.productID, SKUID: line.skuID})
	} else {
		sku, err = r.search(ctx, line.skuID)
	}
	if err != nil {
		return domain.SKU{}, err
	}
	r.memo[key] = sku
	return sku, nil
}

func (r *catalogResolver) search(ctx context.Context, skuID string) (domain.SKU, error) {
	matches, err := r.tx.FindSKUs(ctx, skuID, skuMatchLimit)
	if err != nil {
		return domain.SKU{}, err
	}
	if len(matches) == 0 {
		return domain.SKU{}, &repositories.OrderError{
			Op:      "catalog.resolve",
			Code:    repositories.OrderErrorSKUNotFound,
			Message: fmt.Sprintf("sku %s not found", skuID),
		}
	}
	first := matches[0]
	for _, other := range matches[1:] {
		if other.ProductID != first.ProductID {
			return domain.SKU{}, &repositories.OrderError{
				Op:      "catalog.resolve",
				Code:    repositories.OrderErrorSKUAmbiguous,
				Message: fmt.Sprintf("sku %s exists under products %s and %s", skuID, first.ProductID, other.ProductID),
			}
		}
	}
	return first, nil
}
