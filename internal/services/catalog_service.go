package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/repositories"
)

// CatalogService administers the catalogue and the order number counter. Errors are
// *OrderFailure values, classified like order errors.
type CatalogService interface {
	ImportProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	CurrentCounter(ctx context.Context) (domain.SerialCounter, error)
	InitializeCounter(ctx context.Context, cmd InitializeCounterCommand) error
}

// InitializeCounterCommand seeds the order number sequence. The next order receives Value+1.
type InitializeCounterCommand struct {
	Value int64
	// Force overwrites an existing counter.
	Force   bool
	ActorID string
}

// CatalogServiceDeps bundles collaborators for the catalogue service.
type CatalogServiceDeps struct {
	Catalog  repositories.CatalogRepository
	Counters repositories.CounterRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog  repositories.CatalogRepository
	counters repositories.CounterRepository
	logger   func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService validates dependencies and returns the catalogue service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("catalog service: counter repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zapEventLogger
	}
	return &catalogService{
		catalog:  deps.Catalog,
		counters: deps.Counters,
		logger:   logger,
	}, nil
}

func (s *catalogService) ImportProduct(ctx context.Context, product domain.Product) error {
	product.ID = strings.TrimSpace(product.ID)
	if err := s.catalog.ImportProduct(ctx, product); err != nil {
		failure := classifyStoreError(err)
		s.logger(ctx, "catalog.import.failed", map[string]any{
			"productId": product.ID,
			"kind":      string(failure.Kind),
			"error":     err.Error(),
		})
		return failure
	}
	s.logger(ctx, "catalog.product.imported", map[string]any{
		"productId": product.ID,
		"skus":      len(product.SKUs),
	})
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || strings.Contains(productID, "/") {
		return domain.Product{}, &OrderFailure{Kind: FailureValidation, Message: "product id is invalid", Fields: []string{"productId"}}
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, classifyStoreError(err)
	}
	return product, nil
}

func (s *catalogService) CurrentCounter(ctx context.Context) (domain.SerialCounter, error) {
	counter, err := s.counters.Current(ctx)
	if err != nil {
		return domain.SerialCounter{}, classifyStoreError(err)
	}
	return counter, nil
}

func (s *catalogService) InitializeCounter(ctx context.Context, cmd InitializeCounterCommand) error {
	if cmd.Value < 0 {
		return &OrderFailure{Kind: FailureValidation, Message: "counter value must not be negative", Fields: []string{"value"}}
	}
	if err := s.counters.Initialize(ctx, cmd.Value, cmd.Force); err != nil {
		return classifyStoreError(err)
	}
	s.logger(ctx, "counter.initialized", map[string]any{
		"value": cmd.Value,
		"force": cmd.Force,
		"actor": cmd.ActorID,
	})
	return nil
}
