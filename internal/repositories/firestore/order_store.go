package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/finitefield/order-desk/internal/domain"
	pfirestore "github.com/finitefield/order-desk/internal/platform/firestore"
	"github.com/finitefield/order-desk/internal/repositories"
)

// OrderStoreOptions locates the counter document and bounds the transaction.
type OrderStoreOptions struct {
	CounterCollection string
	CounterDocument   string
	MaxAttempts       int
	Timeout           time.Duration
	// OnAttempt is invoked with the 1-based attempt number each time a transaction body starts.
	OnAttempt func(ctx context.Context, attempt int)
}

// OrderStore implements repositories.OrderStore on Firestore transactions.
type OrderStore struct {
	provider *pfirestore.Provider
	opts     OrderStoreOptions
}

var _ repositories.OrderStore = (*OrderStore)(nil)

// NewOrderStore constructs a Firestore-backed order store.
func NewOrderStore(provider *pfirestore.Provider, opts OrderStoreOptions) (*OrderStore, error) {
	if provider == nil {
		return nil, errors.New("order store requires firestore provider")
	}
	opts.CounterCollection = strings.TrimSpace(opts.CounterCollection)
	opts.CounterDocument = strings.TrimSpace(opts.CounterDocument)
	if opts.CounterCollection == "" || opts.CounterDocument == "" {
		return nil, errors.New("order store requires counter collection and document")
	}
	return &OrderStore{provider: provider, opts: opts}, nil
}

// RunOrderTx executes fn inside a Firestore transaction. Each attempt receives a fresh
// OrderTx; staged writes from an aborted attempt are discarded by Firestore.
func (s *OrderStore) RunOrderTx(ctx context.Context, fn repositories.OrderTxFunc) error {
	if s == nil || s.provider == nil {
		return errors.New("order store not initialised")
	}
	if fn == nil {
		return errors.New("order store: transaction function is required")
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}

	txOpts := []pfirestore.TxOption{
		pfirestore.WithTxAttempts(s.opts.MaxAttempts),
		pfirestore.WithTxTimeout(s.opts.Timeout),
	}
	if s.opts.OnAttempt != nil {
		txOpts = append(txOpts, pfirestore.WithAttemptObserver(func(attempt int) {
			s.opts.OnAttempt(ctx, attempt)
		}))
	}

	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &orderTx{
			client:     client,
			tx:         tx,
			counterRef: client.Collection(s.opts.CounterCollection).Doc(s.opts.CounterDocument),
		})
	}, txOpts...)
	return wrapOrderError("orders.tx", err)
}

type orderTx struct {
	client     *firestore.Client
	tx         *firestore.Transaction
	counterRef *firestore.DocumentRef
	wrote      bool
}

func (t *orderTx) checkRead(op string) error {
	if t.wrote {
		return &repositories.OrderError{
			Op:      op,
			Code:    repositories.OrderErrorReadAfterWrite,
			Message: "reads must precede writes in an order transaction",
		}
	}
	return nil
}

func (t *orderTx) FindSKUs(ctx context.Context, skuID string, limit int) ([]domain.SKU, error) {
	const op = "skus.find"
	if err := t.checkRead(op); err != nil {
		return nil, err
	}
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return nil, &repositories.OrderError{Op: op, Code: repositories.OrderErrorInvalidInput, Message: "sku id is required"}
	}
	if limit <= 0 {
		limit = 1
	}

	query := t.client.CollectionGroup(skusCollection).
		Where("id", "==", skuID).
		OrderBy("id", firestore.Asc).
		OrderBy("sortNum", firestore.Asc).
		Limit(limit)

	snaps, err := t.tx.Documents(query).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError(op, err)
	}

	skus := make([]domain.SKU, 0, len(snaps))
	for _, snap := range snaps {
		var doc skuDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sku %s: %w", snap.Ref.Path, err)
		}
		skus = append(skus, doc.toDomain(snap.Ref))
	}
	return skus, nil
}

func (t *orderTx) GetSKU(ctx context.Context, ref domain.SKURef) (domain.SKU, error) {
	const op = "skus.get"
	if err := t.checkRead(op); err != nil {
		return domain.SKU{}, err
	}
	docRef, err := t.skuRef(ref)
	if err != nil {
		return domain.SKU{}, err
	}

	snap, err := t.tx.Get(docRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.SKU{}, &repositories.OrderError{
				Op:      op,
				Code:    repositories.OrderErrorSKUNotFound,
				Message: fmt.Sprintf("sku %s not found", ref.Path()),
				Err:     pfirestore.WrapError(op, err),
			}
		}
		return domain.SKU{}, pfirestore.WrapError(op, err)
	}

	var doc skuDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SKU{}, fmt.Errorf("decode sku %s: %w", ref.Path(), err)
	}
	return doc.toDomain(snap.Ref), nil
}

func (t *orderTx) GetCounter(ctx context.Context) (domain.SerialCounter, error) {
	const op = "counter.get"
	if err := t.checkRead(op); err != nil {
		return domain.SerialCounter{}, err
	}

	snap, err := t.tx.Get(t.counterRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.SerialCounter{}, &repositories.OrderError{
				Op:      op,
				Code:    repositories.OrderErrorCounterNotFound,
				Message: fmt.Sprintf("counter %s not found", t.counterRef.Path),
				Err:     pfirestore.WrapError(op, err),
			}
		}
		return domain.SerialCounter{}, pfirestore.WrapError(op, err)
	}

	var doc counterDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SerialCounter{}, fmt.Errorf("decode counter %s: %w", t.counterRef.Path, err)
	}
	return doc.toDomain(), nil
}

func (t *orderTx) SetCounter(value int64) error {
	t.wrote = true
	return t.tx.Update(t.counterRef, []firestore.Update{
		{Path: fieldCount, Value: value},
		{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
	})
}

func (t *orderTx) IncrementOutstanding(ref domain.SKURef, delta int64) error {
	docRef, err := t.skuRef(ref)
	if err != nil {
		return err
	}
	t.wrote = true
	// Update fails the commit with NotFound when the SKU vanished since it was read.
	return t.tx.Update(docRef, []firestore.Update{
		{Path: fieldOutstandingQuantity, Value: firestore.Increment(delta)},
		{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
	})
}

func (t *orderTx) NewOrderID() string {
	return t.client.Collection(ordersCollection).NewDoc().ID
}

func (t *orderTx) CreateOrder(order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return &repositories.OrderError{Op: "orders.create", Code: repositories.OrderErrorInvalidInput, Message: "order id is required"}
	}
	t.wrote = true
	return t.tx.Create(t.client.Collection(ordersCollection).Doc(order.ID), newOrderDocument(order))
}

func (t *orderTx) CreateOrderDetail(detail domain.OrderDetail) (string, error) {
	const op = "orderDetails.create"
	if strings.TrimSpace(detail.OrderID) == "" {
		return "", &repositories.OrderError{Op: op, Code: repositories.OrderErrorInvalidInput, Message: "order id is required"}
	}
	skuRef, err := t.skuRef(detail.SKU)
	if err != nil {
		return "", err
	}
	orderRef := t.client.Collection(ordersCollection).Doc(detail.OrderID)
	detailRef := orderRef.Collection(orderDetailsCollection).NewDoc()

	t.wrote = true
	if err := t.tx.Create(detailRef, newOrderDetailDocument(detail, orderRef, skuRef)); err != nil {
		return "", err
	}
	return detailRef.ID, nil
}

func (t *orderTx) skuRef(ref domain.SKURef) (*firestore.DocumentRef, error) {
	productID := strings.TrimSpace(ref.ProductID)
	skuID := strings.TrimSpace(ref.SKUID)
	if productID == "" || skuID == "" || strings.Contains(productID, "/") || strings.Contains(skuID, "/") {
		return nil, &repositories.OrderError{
			Op:      "skus.ref",
			Code:    repositories.OrderErrorInvalidInput,
			Message: fmt.Sprintf("invalid sku reference %q", ref.Path()),
		}
	}
	return t.client.Collection(productsCollection).Doc(productID).Collection(skusCollection).Doc(skuID), nil
}

// wrapOrderError keeps typed order errors intact and classifies everything else.
func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		return err
	}
	return pfirestore.WrapError(op, err)
}
