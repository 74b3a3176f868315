package services

import (
	"fmt"
	"sort"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/repositories"
)

// quantityAggregator sums ordered quantities per SKU and stages one increment each.
type quantityAggregator struct {
	totals map[domain.SKURef]int64
}

func newQuantityAggregator() *quantityAggregator {
	return &quantityAggregator{totals: make(map[domain.SKURef]int64)}
}

// Add accumulates quantity for ref. Lines naming the same SKU by different keys collapse here,
// so the sum is checked again.
func (a *quantityAggregator) Add(ref domain.SKURef, quantity int64) error {
	total, ok := addQuantity(a.totals[ref], quantity)
	if quantity < 0 || !ok {
		return &OrderFailure{
			Kind:    FailureValidation,
			Message: fmt.Sprintf("quantity for sku %s is out of range", ref.SKUID),
			Fields:  []string{"lines.quantity"},
		}
	}
	a.totals[ref] = total
	return nil
}

// Stage issues increments ordered by document path.
func (a *quantityAggregator) Stage(tx repositories.OrderTx) error {
	refs := make([]domain.SKURef, 0, len(a.totals))
	for ref := range a.totals {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path() < refs[j].Path() })
	for _, ref := range refs {
		if err := tx.IncrementOutstanding(ref, a.totals[ref]); err != nil {
			return err
		}
	}
	return nil
}
