package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/finitefield/order-desk/internal/domain"
	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/platform/pagination"
	"github.com/finitefield/order-desk/internal/repositories"
)

// orderCursor marks the last order number returned on a page.
type orderCursor struct {
	OrderNumber int64 `json:"n"`
}

// OrderRepository reads committed orders from Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order reader.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// FindByID loads the header and its details ordered by sortNum.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) && fsErr.IsNotFound() {
			return domain.Order{}, &repositories.OrderError{
				Op:      "orders.get",
				Code:    repositories.OrderErrorOrderNotFound,
				Message: fmt.Sprintf("order %s not found", orderID),
				Err:     err,
			}
		}
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)

	details := pfirestore.NewBaseRepository[orderDetailDocument](r.provider, ordersCollection+"/"+orderID+"/"+orderDetailsCollection, nil)
	rows, err := details.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("sortNum", firestore.Asc)
	})
	if err != nil {
		return domain.Order{}, err
	}
	order.Details = make([]domain.OrderDetail, 0, len(rows))
	for _, row := range rows {
		order.Details = append(order.Details, row.Data.toDomain(row.ID))
	}
	return order, nil
}

// ListByUser pages through a user's orders, highest order number first. Details are not loaded.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Page[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "user id is required", nil)
	}
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken[orderCursor](pager.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "invalid page token", err)
	}

	rows, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("uid", "==", userID).OrderBy("orderNumber", firestore.Desc)
		if pager.PageToken != "" {
			q = q.StartAfter(cursor.OrderNumber)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	page := domain.Page[domain.Order]{Items: make([]domain.Order, 0, min(len(rows), pageSize))}
	for i, row := range rows {
		if i == pageSize {
			token, err := pagination.EncodeToken(orderCursor{OrderNumber: page.Items[pageSize-1].OrderNumber})
			if err != nil {
				return domain.Page[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, row.Data.toDomain(row.ID))
	}
	return page, nil
}
