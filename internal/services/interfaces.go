package services

import (
	"context"

	domain "github.com/finitefield/order-desk/internal/domain"
)

// OrderService creates orders atomically and exposes the read contract for committed orders.
// Every non-nil error returned by its methods is an *OrderFailure.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (domain.Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.Page[domain.Order], error)
}

// SystemService reports service health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderEventPublisher delivers order domain events to downstream consumers. It is only
// called after the order transaction committed.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// CreateOrderCommand is the raw submission. Lines are filtered and normalised before any
// store access.
type CreateOrderCommand struct {
	UserID    string
	Submitter SubmitterInput
	Lines     []OrderLineInput
}

// SubmitterInput carries the buyer metadata typed on the order form.
type SubmitterInput struct {
	Section      string
	EmployeeCode int64
	Initial      string
	Username     string
	Position     string
	CompanyName  string
	SiteCode     string
	SiteName     string
	ZipCode      int64
	Address      string
	Tel          string
	Applicant    string
	Memo         string
}

// OrderLineInput is one requested SKU. ProductID is optional; when set the SKU is read
// directly instead of being searched across products.
type OrderLineInput struct {
	SKUID     string
	ProductID string
	Quantity  int64
	Hem       *int64
}

// CreateOrderResult identifies the committed order.
type CreateOrderResult struct {
	OrderID     string
	OrderNumber int64
	LineCount   int
}

// GetOrderCommand loads one order on behalf of its owner.
type GetOrderCommand struct {
	UserID  string
	OrderID string
}

// ListOrdersCommand pages through the caller's orders.
type ListOrdersCommand struct {
	UserID     string
	Pagination domain.Pagination
}
