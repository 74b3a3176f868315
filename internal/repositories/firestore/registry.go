package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/repositories"
)

// Registry wires every Firestore repository onto one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	catalog  *CatalogRepository
	counters *CounterRepository
	store    *OrderStore
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds all repositories. The registry owns provider and closes it on Close.
func NewRegistry(provider *pfirestore.Provider, opts OrderStoreOptions) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider, opts.CounterCollection, opts.CounterDocument)
	if err != nil {
		return nil, err
	}
	store, err := NewOrderStore(provider, opts)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		catalog:  catalog,
		counters: counters,
		store:    store,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository     { return r.catalog }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) OrderStore() repositories.OrderStore         { return r.store }
func (r *Registry) Close(ctx context.Context) error             { return r.provider.Close(ctx) }
