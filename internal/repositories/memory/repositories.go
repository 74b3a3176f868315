package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/platform/pagination"
	"github.com/finitefield/order-desk/internal/repositories"
)

// Registry exposes the store through the repository interfaces.
type Registry struct {
	store *Store
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps store.
func NewRegistry(store *Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Orders() repositories.OrderRepository    { return orderRepository{r.store} }
func (r *Registry) Catalog() repositories.CatalogRepository  { return catalogRepository{r.store} }
func (r *Registry) Counters() repositories.CounterRepository { return counterRepository{r.store} }
func (r *Registry) OrderStore() repositories.OrderStore      { return r.store }
func (r *Registry) Close(context.Context) error              { return nil }

type orderRepository struct{ s *Store }

type orderCursor struct {
	OrderNumber int64 `json:"n"`
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, &repositories.OrderError{
			Op:      "orders.get",
			Code:    repositories.OrderErrorOrderNotFound,
			Message: fmt.Sprintf("order %s not found", orderID),
		}
	}
	order.Details = append([]domain.OrderDetail(nil), order.Details...)
	sort.SliceStable(order.Details, func(i, j int) bool {
		return order.Details[i].SortNum < order.Details[j].SortNum
	})
	return order, nil
}

func (r orderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Page[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "user id is required", nil)
	}
	cursor, err := pagination.DecodeToken[orderCursor](pager.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "invalid page token", err)
	}
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	r.s.mu.Lock()
	var owned []domain.Order
	for _, order := range r.s.orders {
		if order.UserID != userID {
			continue
		}
		if pager.PageToken != "" && order.OrderNumber >= cursor.OrderNumber {
			continue
		}
		order.Details = nil
		owned = append(owned, order)
	}
	r.s.mu.Unlock()

	sort.Slice(owned, func(i, j int) bool { return owned[i].OrderNumber > owned[j].OrderNumber })

	page := domain.Page[domain.Order]{Items: owned}
	if len(owned) > pageSize {
		page.Items = owned[:pageSize]
		token, err := pagination.EncodeToken(orderCursor{OrderNumber: page.Items[pageSize-1].OrderNumber})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type catalogRepository struct{ s *Store }

func (r catalogRepository) ImportProduct(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	product, err := repositories.NormalizeProduct(product)
	if err != nil {
		return err
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sku := range product.SKUs {
		for _, entry := range s.skus {
			if entry.value.ID == sku.ID && entry.value.ProductID != product.ID {
				return &repositories.OrderError{
					Op:      "catalog.import",
					Code:    repositories.OrderErrorSKUOwnedElsewhere,
					Message: fmt.Sprintf("sku %s already belongs to product %s", sku.ID, entry.value.ProductID),
				}
			}
		}
	}

	now := s.now().UTC()
	header := product
	header.SKUs = nil
	s.products[product.ID] = header
	for _, sku := range product.SKUs {
		sku.ProductID = product.ID
		sku.UpdatedAt = now
		key := sku.Ref().Path()
		if existing, ok := s.skus[key]; ok {
			sku.OutstandingQuantity = existing.value.OutstandingQuantity
		} else {
			sku.OutstandingQuantity = 0
			s.bump(skuSetKey)
		}
		s.skus[key] = &versioned[domain.SKU]{version: s.bump(key), value: sku}
	}
	return nil
}

func (r catalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewOrderError(repositories.OrderErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}
	for _, entry := range r.s.skus {
		if entry.value.ProductID == productID {
			product.SKUs = append(product.SKUs, entry.value)
		}
	}
	sort.Slice(product.SKUs, func(i, j int) bool {
		if product.SKUs[i].SortNum != product.SKUs[j].SortNum {
			return product.SKUs[i].SortNum < product.SKUs[j].SortNum
		}
		return product.SKUs[i].ID < product.SKUs[j].ID
	})
	return product, nil
}

type counterRepository struct{ s *Store }

func (r counterRepository) Current(ctx context.Context) (domain.SerialCounter, error) {
	if err := ctx.Err(); err != nil {
		return domain.SerialCounter{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.counter == nil {
		return domain.SerialCounter{}, &repositories.OrderError{
			Op:      "counter.current",
			Code:    repositories.OrderErrorCounterNotFound,
			Message: "counter not found",
		}
	}
	return r.s.counter.value, nil
}

func (r counterRepository) Initialize(ctx context.Context, value int64, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value < 0 {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("counter value must be >= 0, got %d", value), nil)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counter != nil && !force {
		return &Error{op: "counter.initialize", err: fmt.Errorf("counter already initialised at %d", s.counter.value.Count), conflict: true}
	}
	s.counter = &versioned[domain.SerialCounter]{
		version: s.bump(counterKey),
		value:   domain.SerialCounter{Count: value, UpdatedAt: s.now().UTC()},
	}
	return nil
}
