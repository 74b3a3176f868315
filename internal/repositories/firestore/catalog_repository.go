package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/finitefield/order-desk/internal/domain"
	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/repositories"
)

// CatalogRepository writes products and their nested SKUs.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalogue repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// ImportProduct upserts the product and its SKUs in one transaction.
func (r *CatalogRepository) ImportProduct(ctx context.Context, product domain.Product) error {
	product, err := repositories.NormalizeProduct(product)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		productRef := client.Collection(productsCollection).Doc(product.ID)

		existing := make(map[string]bool, len(product.SKUs))
		for _, sku := range product.SKUs {
			snaps, err := tx.Documents(client.CollectionGroup(skusCollection).Where("id", "==", sku.ID)).GetAll()
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				owner := ""
				if parent := snap.Ref.Parent.Parent; parent != nil {
					owner = parent.ID
				}
				if owner != product.ID {
					return &repositories.OrderError{
						Op:      "catalog.import",
						Code:    repositories.OrderErrorSKUOwnedElsewhere,
						Message: fmt.Sprintf("sku %s already belongs to product %s", sku.ID, owner),
					}
				}
				if snap.Ref.ID == sku.ID {
					existing[sku.ID] = true
				}
			}
		}

		if err := tx.Set(productRef, newProductDocument(product)); err != nil {
			return err
		}
		for _, sku := range product.SKUs {
			sku.ProductID = product.ID
			doc := newSKUDocument(sku)
			skuRef := productRef.Collection(skusCollection).Doc(sku.ID)
			if existing[sku.ID] {
				err = tx.Update(skuRef, doc.catalogUpdates())
			} else {
				doc.OutstandingQuantity = 0
				err = tx.Create(skuRef, doc)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return wrapOrderError("catalog.import", err)
}

// GetProduct loads a product with its SKUs ordered by sortNum.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data.toDomain()
	if product.ID == "" {
		product.ID = doc.ID
	}

	skus := pfirestore.NewBaseRepository[skuDocument](r.provider, productsCollection+"/"+doc.ID+"/"+skusCollection, nil)
	rows, err := skus.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("sortNum", firestore.Asc)
	})
	if err != nil {
		return domain.Product{}, err
	}
	for _, row := range rows {
		sku := row.Data
		if sku.ID == "" {
			sku.ID = row.ID
		}
		sku.ProductID = product.ID
		product.SKUs = append(product.SKUs, sku.toDomain(nil))
	}
	return product, nil
}
