package repositories

import (
	"context"

	domain "github.com/finitefield/order-desk/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	OrderStore() OrderStore
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderTxFunc is the body of an order transaction. The store may invoke it several times
// when commits collide, so it must keep all working state local to one invocation.
type OrderTxFunc func(ctx context.Context, tx OrderTx) error

// OrderStore runs order transactions with optimistic concurrency. Nothing staged by an
// attempt becomes visible unless the whole attempt commits.
type OrderStore interface {
	RunOrderTx(ctx context.Context, fn OrderTxFunc) error
}

// OrderTx is the view of one transaction attempt. Every read must happen before the first
// staged write; a read after a write fails with OrderErrorReadAfterWrite.
type OrderTx interface {
	// FindSKUs runs the collection group lookup for skuID ordered by id then sortNum,
	// returning at most limit matches.
	FindSKUs(ctx context.Context, skuID string, limit int) ([]domain.SKU, error)
	// GetSKU reads one SKU by its full reference. Missing documents yield OrderErrorSKUNotFound.
	GetSKU(ctx context.Context, ref domain.SKURef) (domain.SKU, error)
	// GetCounter reads the order number counter. A missing document yields OrderErrorCounterNotFound.
	GetCounter(ctx context.Context) (domain.SerialCounter, error)

	// SetCounter stages the new counter value.
	SetCounter(value int64) error
	// IncrementOutstanding stages an additive update of the SKU's outstanding quantity.
	IncrementOutstanding(ref domain.SKURef, delta int64) error
	// NewOrderID allocates a document id for an order header.
	NewOrderID() string
	// CreateOrder stages the header. order.ID must come from NewOrderID.
	CreateOrder(order domain.Order) error
	// CreateOrderDetail stages one line item under its order and returns the allocated id.
	CreateOrderDetail(detail domain.OrderDetail) (string, error)
}

// OrderRepository reads committed orders.
type OrderRepository interface {
	// FindByID returns the header with details sorted by sortNum.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListByUser returns headers owned by userID, newest order number first.
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error)
}

// CatalogRepository maintains products and their SKUs.
type CatalogRepository interface {
	// ImportProduct upserts the product and its SKUs atomically. SKU ids already owned by a
	// different product are rejected with OrderErrorSKUOwnedElsewhere. Existing outstanding
	// quantities are preserved.
	ImportProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CounterRepository administers the order number sequence outside order transactions.
type CounterRepository interface {
	Current(ctx context.Context) (domain.SerialCounter, error)
	// Initialize creates the counter at value. When force is false an existing counter is
	// left untouched and a conflict is returned.
	Initialize(ctx context.Context, value int64, force bool) error
}
