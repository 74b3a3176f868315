package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/repositories"
)

func fastBackoff() Option {
	return WithBackoff(gax.Backoff{Initial: time.Microsecond, Max: time.Millisecond, Multiplier: 2})
}

func seed(t *testing.T, store *Store, counter int64) {
	t.Helper()
	reg := NewRegistry(store)
	ctx := context.Background()
	require.NoError(t, reg.Counters().Initialize(ctx, counter, false))
	require.NoError(t, reg.Catalog().ImportProduct(ctx, domain.Product{
		ID:            "p-1",
		ProductNumber: "W-100",
		ProductName:   "Work jacket",
		SalePrice:     4800,
		SKUs: []domain.SKU{
			{ID: "sku-a", Size: "M", SortNum: 2},
			{ID: "sku-b", Size: "L", SortNum: 1},
		},
	}))
}

func TestStoreCommitsStagedWrites(t *testing.T) {
	store := NewStore()
	seed(t, store, 41)
	ref := domain.SKURef{ProductID: "p-1", SKUID: "sku-a"}

	err := store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		counter, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.GetSKU(ctx, ref); err != nil {
			return err
		}
		if err := tx.SetCounter(counter.Count + 1); err != nil {
			return err
		}
		if err := tx.IncrementOutstanding(ref, 3); err != nil {
			return err
		}
		id := tx.NewOrderID()
		if err := tx.CreateOrder(domain.Order{ID: id, OrderNumber: counter.Count + 1, UserID: "u-1"}); err != nil {
			return err
		}
		_, err = tx.CreateOrderDetail(domain.OrderDetail{OrderID: id, SKU: ref, Quantity: 3, SortNum: 1})
		return err
	})
	require.NoError(t, err)

	current, err := NewRegistry(store).Counters().Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), current.Count)

	sku, ok := store.SKU(ref)
	require.True(t, ok)
	assert.Equal(t, int64(3), sku.OutstandingQuantity)
	assert.Equal(t, 1, store.OrderCount())
}

func TestStoreRejectsReadAfterWrite(t *testing.T) {
	store := NewStore()
	seed(t, store, 1)

	err := store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		if err := tx.SetCounter(2); err != nil {
			return err
		}
		_, err := tx.GetCounter(ctx)
		return err
	})
	assert.Equal(t, repositories.OrderErrorReadAfterWrite, repositories.OrderErrorCodeOf(err))
}

func TestStoreRetriesAfterConcurrentWrite(t *testing.T) {
	var store *Store
	var attempts []int
	store = NewStore(fastBackoff(), WithCommitHook(func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			// Another writer advances the counter between our read and commit.
			return NewRegistry(store).Counters().Initialize(ctx, 100, true)
		}
		return nil
	}))
	seed(t, store, 41)

	var observed []int64
	err := store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		counter, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		observed = append(observed, counter.Count)
		return tx.SetCounter(counter.Count + 1)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []int64{41, 100}, observed)

	current, err := NewRegistry(store).Counters().Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(101), current.Count)
}

func TestStoreReportsConflictWhenAttemptsExhausted(t *testing.T) {
	store := NewStore(fastBackoff(), WithMaxAttempts(3), WithCommitHook(func(context.Context, int) error {
		return ErrConflict
	}))
	seed(t, store, 7)

	calls := 0
	err := store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		calls++
		counter, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		return tx.SetCounter(counter.Count + 1)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrConflict)

	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsConflict())

	current, err := NewRegistry(store).Counters().Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), current.Count)
}

func TestStoreAppliesNothingWhenAnyWriteFails(t *testing.T) {
	store := NewStore()
	seed(t, store, 10)
	ghost := domain.SKURef{ProductID: "p-9", SKUID: "ghost"}

	err := store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		if _, err := tx.GetCounter(ctx); err != nil {
			return err
		}
		if err := tx.SetCounter(11); err != nil {
			return err
		}
		if err := tx.IncrementOutstanding(domain.SKURef{ProductID: "p-1", SKUID: "sku-a"}, 2); err != nil {
			return err
		}
		return tx.IncrementOutstanding(ghost, 1)
	})
	assert.Equal(t, repositories.OrderErrorSKUNotFound, repositories.OrderErrorCodeOf(err))

	current, err := NewRegistry(store).Counters().Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), current.Count)
	sku, _ := store.SKU(domain.SKURef{ProductID: "p-1", SKUID: "sku-a"})
	assert.Zero(t, sku.OutstandingQuantity)
}

func TestStoreFindSKUsOrdersBySortNum(t *testing.T) {
	store := NewStore()
	seed(t, store, 0)
	store.PutSKU(domain.SKU{ID: "sku-a", ProductID: "p-0", SortNum: 1})

	var found []domain.SKU
	err := store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		var err error
		found, err = tx.FindSKUs(ctx, "sku-a", 5)
		return err
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "p-0", found[0].ProductID)
	assert.Equal(t, "p-1", found[1].ProductID)

	err = store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
		var err error
		found, err = tx.FindSKUs(ctx, "sku-a", 1)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestStoreHonoursCancellation(t *testing.T) {
	store := NewStore()
	seed(t, store, 0)
	ctx, cancel := context.WithCancel(context.Background())

	err := store.RunOrderTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
		cancel()
		_, err := tx.GetCounter(ctx)
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreConcurrentIncrementsAreSerialised(t *testing.T) {
	store := NewStore(fastBackoff(), WithMaxAttempts(200))
	seed(t, store, 0)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.RunOrderTx(context.Background(), func(ctx context.Context, tx repositories.OrderTx) error {
				counter, err := tx.GetCounter(ctx)
				if err != nil {
					return err
				}
				return tx.SetCounter(counter.Count + 1)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := NewRegistry(store).Counters().Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(workers), current.Count)
}

func TestCatalogImportPreservesOutstandingAndOwnership(t *testing.T) {
	store := NewStore()
	seed(t, store, 0)
	reg := NewRegistry(store)
	ctx := context.Background()
	ref := domain.SKURef{ProductID: "p-1", SKUID: "sku-a"}

	require.NoError(t, store.RunOrderTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
		return tx.IncrementOutstanding(ref, 5)
	}))

	require.NoError(t, reg.Catalog().ImportProduct(ctx, domain.Product{
		ID:          "p-1",
		ProductName: "Work jacket v2",
		SKUs:        []domain.SKU{{ID: "sku-a", Size: "M"}},
	}))
	sku, ok := store.SKU(ref)
	require.True(t, ok)
	assert.Equal(t, int64(5), sku.OutstandingQuantity)
	assert.Equal(t, "Work jacket v2", sku.ProductName)

	err := reg.Catalog().ImportProduct(ctx, domain.Product{ID: "p-2", SKUs: []domain.SKU{{ID: "sku-b"}}})
	assert.Equal(t, repositories.OrderErrorSKUOwnedElsewhere, repositories.OrderErrorCodeOf(err))

	product, err := reg.Catalog().GetProduct(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, product.SKUs, 2)
	assert.Equal(t, "sku-a", product.SKUs[0].ID, "re-imported sku takes sortNum 0")
	assert.Equal(t, "Work jacket v2", product.ProductName)
}

func TestCounterInitializeRefusesOverwrite(t *testing.T) {
	store := NewStore()
	counters := NewRegistry(store).Counters()
	ctx := context.Background()

	_, err := counters.Current(ctx)
	assert.Equal(t, repositories.OrderErrorCounterNotFound, repositories.OrderErrorCodeOf(err))

	require.NoError(t, counters.Initialize(ctx, 5, false))
	err = counters.Initialize(ctx, 9, false)
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsConflict())

	require.NoError(t, counters.Initialize(ctx, 9, true))
	current, err := counters.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), current.Count)
}

func TestListByUserPaginatesNewestFirst(t *testing.T) {
	store := NewStore()
	seed(t, store, 0)
	ctx := context.Background()

	for n := int64(1); n <= 5; n++ {
		owner := "u-1"
		if n == 3 {
			owner = "u-2"
		}
		require.NoError(t, store.RunOrderTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
			return tx.CreateOrder(domain.Order{ID: tx.NewOrderID(), OrderNumber: n, UserID: owner})
		}))
	}

	orders := NewRegistry(store).Orders()
	first, err := orders.ListByUser(ctx, "u-1", domain.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, int64(5), first.Items[0].OrderNumber)
	assert.Equal(t, int64(4), first.Items[1].OrderNumber)
	require.NotEmpty(t, first.NextPageToken)

	second, err := orders.ListByUser(ctx, "u-1", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, int64(2), second.Items[0].OrderNumber)
	assert.Equal(t, int64(1), second.Items[1].OrderNumber)
	assert.Empty(t, second.NextPageToken)

	_, err = orders.ListByUser(ctx, "u-1", domain.Pagination{PageToken: "%%%"})
	assert.Equal(t, repositories.OrderErrorInvalidInput, repositories.OrderErrorCodeOf(err))
}
