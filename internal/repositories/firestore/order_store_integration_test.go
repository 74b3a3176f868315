//go:build integration

package firestore_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/finitefield/order-desk/internal/domain"
	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/platform/firestore/firestoretest"
	fsrepo "github.com/finitefield/order-desk/internal/repositories/firestore"
	"github.com/finitefield/order-desk/internal/services"
)

func newIntegrationRegistry(t *testing.T) (*fsrepo.Registry, *pfirestore.Provider) {
	t.Helper()
	cfg := firestoretest.StartEmulator(t, "orders-integration")
	provider := pfirestore.NewProvider(cfg)
	reg, err := fsrepo.NewRegistry(provider, fsrepo.OrderStoreOptions{
		CounterCollection: "serialNumbers",
		CounterDocument:   "orderNumber",
		MaxAttempts:       10,
		Timeout:           20 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg, provider
}

func integrationSubmitter() services.SubmitterInput {
	return services.SubmitterInput{
		Section: "Works", EmployeeCode: 12, Username: "Sato", SiteCode: "S-1",
		SiteName: "Harbour", Address: "1-2-3 Minato", Tel: "03-1234-5678",
	}
}

func TestOrderTransactionAgainstEmulator(t *testing.T) {
	reg, _ := newIntegrationRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:  reg.Catalog(),
		Counters: reg.Counters(),
	})
	require.NoError(t, err)
	require.NoError(t, catalog.ImportProduct(ctx, domain.Product{
		ID: "p-1", ProductNumber: "W-100", ProductName: "Work trousers", SalePrice: 3900, IsHem: true,
		SKUs: []domain.SKU{{ID: "T-73", Size: "73", SortNum: 1}, {ID: "T-76", Size: "76", SortNum: 2}},
	}))
	require.NoError(t, catalog.InitializeCounter(ctx, services.InitializeCounterCommand{Value: 1000}))

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Store:  reg.OrderStore(),
		Orders: reg.Orders(),
	})
	require.NoError(t, err)

	hem := int64(70)
	result, err := orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:    "u-1",
		Submitter: integrationSubmitter(),
		Lines: []services.OrderLineInput{
			{SKUID: "T-76", Quantity: 2, Hem: &hem},
			{SKUID: "T-73", Quantity: 1},
			{SKUID: "T-76", Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), result.OrderNumber)

	order, err := orders.GetOrder(ctx, services.GetOrderCommand{UserID: "u-1", OrderID: result.OrderID})
	require.NoError(t, err)
	require.Len(t, order.Details, result.LineCount)

	product, err := catalog.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	outstanding := map[string]int64{}
	for _, sku := range product.SKUs {
		outstanding[sku.ID] = sku.OutstandingQuantity
	}
	assert.Equal(t, int64(5), outstanding["T-76"])
	assert.Equal(t, int64(1), outstanding["T-73"])

	_, err = orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:    "u-1",
		Submitter: integrationSubmitter(),
		Lines:     []services.OrderLineInput{{SKUID: "missing", Quantity: 1}},
	})
	assert.Equal(t, services.FailureNotFound, services.FailureKindOf(err))

	counter, err := catalog.CurrentCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), counter.Count, "failed transaction must not consume a number")
}

func TestConcurrentOrdersReceiveDistinctNumbers(t *testing.T) {
	reg, _ := newIntegrationRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Catalog: reg.Catalog(), Counters: reg.Counters()})
	require.NoError(t, err)
	require.NoError(t, catalog.ImportProduct(ctx, domain.Product{ID: "p-1", SKUs: []domain.SKU{{ID: "A"}}}))
	require.NoError(t, catalog.InitializeCounter(ctx, services.InitializeCounterCommand{Value: 0}))

	orders, err := services.NewOrderService(services.OrderServiceDeps{Store: reg.OrderStore(), Orders: reg.Orders()})
	require.NoError(t, err)

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := orders.CreateOrder(ctx, services.CreateOrderCommand{
				UserID:    "u-1",
				Submitter: integrationSubmitter(),
				Lines:     []services.OrderLineInput{{SKUID: "A", Quantity: 1}},
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, res.OrderNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	require.Len(t, numbers, workers)
	for i, n := range numbers {
		assert.Equal(t, int64(i+1), n)
	}

	product, err := catalog.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), product.SKUs[0].OutstandingQuantity)
}
