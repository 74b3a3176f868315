package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/finitefield/order-desk/internal/domain"
	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/repositories"
)

// CounterRepository administers the order number counter document.
type CounterRepository struct {
	counters *pfirestore.BaseRepository[counterDocument]
	document string
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a repository for collection/document.
func NewCounterRepository(provider *pfirestore.Provider, collection, document string) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	document = strings.TrimSpace(document)
	if collection == "" || document == "" {
		return nil, errors.New("counter repository requires collection and document")
	}
	return &CounterRepository{
		counters: pfirestore.NewBaseRepository[counterDocument](provider, collection, nil),
		document: document,
	}, nil
}

// Current returns the last issued order number.
func (r *CounterRepository) Current(ctx context.Context) (domain.SerialCounter, error) {
	doc, err := r.counters.Get(ctx, r.document)
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) && fsErr.IsNotFound() {
			return domain.SerialCounter{}, &repositories.OrderError{
				Op:      "counter.current",
				Code:    repositories.OrderErrorCounterNotFound,
				Message: fmt.Sprintf("counter %s not found", r.document),
				Err:     err,
			}
		}
		return domain.SerialCounter{}, err
	}
	return doc.Data.toDomain(), nil
}

// Initialize seeds the counter. Without force an existing counter yields a conflict error.
func (r *CounterRepository) Initialize(ctx context.Context, value int64, force bool) error {
	if value < 0 {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("counter value must be >= 0, got %d", value), nil)
	}
	doc := counterDocument{Count: value}
	if force {
		return r.counters.Set(ctx, r.document, doc)
	}
	return r.counters.Create(ctx, r.document, doc)
}
