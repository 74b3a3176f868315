// Package memory provides an in-process document store with the same optimistic
// concurrency contract as the Firestore repositories.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/oklog/ulid/v2"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/repositories"
)

const (
	defaultMaxAttempts = 5
	counterKey         = "counter"
	skuSetKey          = "skus"
)

// ErrConflict reports a commit that lost against a concurrent transaction.
var ErrConflict = errors.New("memory: transaction conflict")

// Error classifies store failures like the Firestore platform error does.
type Error struct {
	op       string
	err      error
	conflict bool
}

func (e *Error) Error() string       { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *Error) Unwrap() error       { return e.err }
func (e *Error) IsNotFound() bool    { return false }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

// CommitHook runs before an attempt's commit is validated. A non-nil error aborts the
// attempt; ErrConflict is retried like a real conflict.
type CommitHook func(ctx context.Context, attempt int) error

// Option customises the Store.
type Option func(*Store)

// WithMaxAttempts bounds how often a conflicting transaction is retried.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff overrides the pause between attempts.
func WithBackoff(b gax.Backoff) Option {
	return func(s *Store) { s.backoff = b }
}

// WithCommitHook installs a hook used to inject faults in tests.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commitHook = hook }
}

// WithAttemptObserver registers fn to be called with the 1-based attempt number.
func WithAttemptObserver(fn func(ctx context.Context, attempt int)) Option {
	return func(s *Store) { s.onAttempt = fn }
}

// WithClock injects the clock used for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type versioned[T any] struct {
	version uint64
	value   T
}

// Store keeps documents in maps guarded by one mutex. Transaction bodies run without the
// lock; commits validate the versions they read and apply atomically.
type Store struct {
	maxAttempts int
	backoff     gax.Backoff
	commitHook  CommitHook
	onAttempt   func(ctx context.Context, attempt int)
	now         func() time.Time

	mu       sync.Mutex
	seq      uint64
	versions map[string]uint64
	counter  *versioned[domain.SerialCounter]
	products map[string]domain.Product
	skus     map[string]*versioned[domain.SKU]
	orders   map[string]domain.Order
}

var _ repositories.OrderStore = (*Store)(nil)

// NewStore returns an empty store. The counter must be initialised before orders commit.
func NewStore(opts ...Option) *Store {
	s := &Store{
		maxAttempts: defaultMaxAttempts,
		backoff: gax.Backoff{
			Initial:    2 * time.Millisecond,
			Max:        50 * time.Millisecond,
			Multiplier: 2,
		},
		now:      time.Now,
		versions: make(map[string]uint64),
		products: make(map[string]domain.Product),
		skus:     make(map[string]*versioned[domain.SKU]),
		orders:   make(map[string]domain.Order),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RunOrderTx runs fn until one attempt commits, the context ends or attempts run out.
func (s *Store) RunOrderTx(ctx context.Context, fn repositories.OrderTxFunc) error {
	if fn == nil {
		return errors.New("memory: transaction function is required")
	}
	backoff := s.backoff

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.onAttempt != nil {
			s.onAttempt(ctx, attempt)
		}

		tx := &orderTx{store: s, reads: make(map[string]uint64), increments: make(map[string]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.tryCommit(ctx, tx, attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
		if attempt < s.maxAttempts {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return err
			}
		}
	}
	return &Error{op: "memory.tx", err: fmt.Errorf("%w after %d attempts", lastErr, s.maxAttempts), conflict: true}
}

func (s *Store) tryCommit(ctx context.Context, tx *orderTx, attempt int) error {
	if s.commitHook != nil {
		if err := s.commitHook(ctx, attempt); err != nil {
			return err
		}
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *orderTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versions[key] != seen {
			return ErrConflict
		}
	}

	// Validate every write before applying any of them.
	if tx.counter != nil && s.counter == nil {
		return &repositories.OrderError{Op: "counter.set", Code: repositories.OrderErrorCounterNotFound, Message: "counter not found"}
	}
	incrementKeys := make([]string, 0, len(tx.increments))
	for key := range tx.increments {
		if _, ok := s.skus[key]; !ok {
			return &repositories.OrderError{Op: "skus.increment", Code: repositories.OrderErrorSKUNotFound, Message: fmt.Sprintf("sku %s not found", key)}
		}
		incrementKeys = append(incrementKeys, key)
	}
	for _, order := range tx.orders {
		if _, exists := s.orders[order.ID]; exists {
			return &Error{op: "orders.create", err: fmt.Errorf("order %s already exists", order.ID), conflict: true}
		}
	}

	now := s.now().UTC()
	if tx.counter != nil {
		s.counter = &versioned[domain.SerialCounter]{
			version: s.bump(counterKey),
			value:   domain.SerialCounter{Count: *tx.counter, UpdatedAt: now},
		}
	}
	sort.Strings(incrementKeys)
	for _, key := range incrementKeys {
		entry := s.skus[key]
		sku := entry.value
		sku.OutstandingQuantity += tx.increments[key]
		sku.UpdatedAt = now
		s.skus[key] = &versioned[domain.SKU]{version: s.bump(key), value: sku}
	}
	for _, order := range tx.orders {
		order.CreatedAt, order.UpdatedAt = now, now
		order.Details = nil
		for _, detail := range tx.details[order.ID] {
			detail.CreatedAt, detail.UpdatedAt = now, now
			order.Details = append(order.Details, detail)
		}
		s.orders[order.ID] = order
	}
	return nil
}

// bump advances the global sequence and records it as key's version. Callers hold mu.
func (s *Store) bump(key string) uint64 {
	s.seq++
	s.versions[key] = s.seq
	return s.seq
}

// PutSKU writes a SKU directly, bypassing catalogue ownership checks.
func (s *Store) PutSKU(sku domain.SKU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sku.Ref().Path()
	if _, exists := s.skus[key]; !exists {
		s.bump(skuSetKey)
	}
	s.skus[key] = &versioned[domain.SKU]{version: s.bump(key), value: sku}
}

// SKU returns the committed state of one SKU.
func (s *Store) SKU(ref domain.SKURef) (domain.SKU, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.skus[ref.Path()]
	if !ok {
		return domain.SKU{}, false
	}
	return entry.value, true
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type orderTx struct {
	store *Store

	reads map[string]uint64
	wrote bool

	counter    *int64
	increments map[string]int64
	orders     []domain.Order
	details    map[string][]domain.OrderDetail
}

func (t *orderTx) beginRead(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.wrote {
		return &repositories.OrderError{
			Op:      op,
			Code:    repositories.OrderErrorReadAfterWrite,
			Message: "reads must precede writes in an order transaction",
		}
	}
	return nil
}

// observe records the version seen for key. Callers hold store.mu.
func (t *orderTx) observe(key string) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.store.versions[key]
	}
}

func (t *orderTx) FindSKUs(ctx context.Context, skuID string, limit int) ([]domain.SKU, error) {
	if err := t.beginRead(ctx, "skus.find"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(skuID) == "" {
		return nil, &repositories.OrderError{Op: "skus.find", Code: repositories.OrderErrorInvalidInput, Message: "sku id is required"}
	}
	if limit <= 0 {
		limit = 1
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	t.observe(skuSetKey)
	var matches []domain.SKU
	for key, entry := range s.skus {
		if entry.value.ID == skuID {
			t.observe(key)
			matches = append(matches, entry.value)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].SortNum != matches[j].SortNum {
			return matches[i].SortNum < matches[j].SortNum
		}
		return matches[i].Ref().Path() < matches[j].Ref().Path()
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (t *orderTx) GetSKU(ctx context.Context, ref domain.SKURef) (domain.SKU, error) {
	if err := t.beginRead(ctx, "skus.get"); err != nil {
		return domain.SKU{}, err
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ref.Path()
	t.observe(key)
	entry, ok := s.skus[key]
	if !ok {
		return domain.SKU{}, &repositories.OrderError{
			Op:      "skus.get",
			Code:    repositories.OrderErrorSKUNotFound,
			Message: fmt.Sprintf("sku %s not found", key),
		}
	}
	return entry.value, nil
}

func (t *orderTx) GetCounter(ctx context.Context) (domain.SerialCounter, error) {
	if err := t.beginRead(ctx, "counter.get"); err != nil {
		return domain.SerialCounter{}, err
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	t.observe(counterKey)
	if s.counter == nil {
		return domain.SerialCounter{}, &repositories.OrderError{
			Op:      "counter.get",
			Code:    repositories.OrderErrorCounterNotFound,
			Message: "counter not found",
		}
	}
	return s.counter.value, nil
}

func (t *orderTx) SetCounter(value int64) error {
	t.wrote = true
	t.counter = &value
	return nil
}

func (t *orderTx) IncrementOutstanding(ref domain.SKURef, delta int64) error {
	if ref.ProductID == "" || ref.SKUID == "" {
		return &repositories.OrderError{Op: "skus.increment", Code: repositories.OrderErrorInvalidInput, Message: "sku reference is required"}
	}
	t.wrote = true
	t.increments[ref.Path()] += delta
	return nil
}

func (t *orderTx) NewOrderID() string {
	return ulid.Make().String()
}

func (t *orderTx) CreateOrder(order domain.Order) error {
	if order.ID == "" {
		return &repositories.OrderError{Op: "orders.create", Code: repositories.OrderErrorInvalidInput, Message: "order id is required"}
	}
	t.wrote = true
	t.orders = append(t.orders, order)
	return nil
}

func (t *orderTx) CreateOrderDetail(detail domain.OrderDetail) (string, error) {
	if detail.OrderID == "" {
		return "", &repositories.OrderError{Op: "orderDetails.create", Code: repositories.OrderErrorInvalidInput, Message: "order id is required"}
	}
	t.wrote = true
	if t.details == nil {
		t.details = make(map[string][]domain.OrderDetail)
	}
	detail.ID = ulid.Make().String()
	t.details[detail.OrderID] = append(t.details[detail.OrderID], detail)
	return detail.ID, nil
}
