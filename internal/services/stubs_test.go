package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/repositories"
)

type stubOrderTx struct {
	findFn    func(context.Context, string, int) ([]domain.SKU, error)
	getSKUFn  func(context.Context, domain.SKURef) (domain.SKU, error)
	counterFn func(context.Context) (domain.SerialCounter, error)

	findCalls  int
	getCalls   int
	counter    *int64
	increments []stubIncrement
	orders     []domain.Order
	details    []domain.OrderDetail
}

type stubIncrement struct {
	ref   domain.SKURef
	delta int64
}

func (s *stubOrderTx) FindSKUs(ctx context.Context, skuID string, limit int) ([]domain.SKU, error) {
	s.findCalls++
	if s.findFn != nil {
		return s.findFn(ctx, skuID, limit)
	}
	return nil, nil
}

func (s *stubOrderTx) GetSKU(ctx context.Context, ref domain.SKURef) (domain.SKU, error) {
	s.getCalls++
	if s.getSKUFn != nil {
		return s.getSKUFn(ctx, ref)
	}
	return domain.SKU{}, errors.New("not implemented")
}

func (s *stubOrderTx) GetCounter(ctx context.Context) (domain.SerialCounter, error) {
	if s.counterFn != nil {
		return s.counterFn(ctx)
	}
	return domain.SerialCounter{}, nil
}

func (s *stubOrderTx) SetCounter(value int64) error {
	s.counter = &value
	return nil
}

func (s *stubOrderTx) IncrementOutstanding(ref domain.SKURef, delta int64) error {
	s.increments = append(s.increments, stubIncrement{ref: ref, delta: delta})
	return nil
}

func (s *stubOrderTx) NewOrderID() string {
	return fmt.Sprintf("order-%d", len(s.orders)+1)
}

func (s *stubOrderTx) CreateOrder(order domain.Order) error {
	s.orders = append(s.orders, order)
	return nil
}

func (s *stubOrderTx) CreateOrderDetail(detail domain.OrderDetail) (string, error) {
	s.details = append(s.details, detail)
	return fmt.Sprintf("detail-%d", len(s.details)), nil
}

var _ repositories.OrderTx = (*stubOrderTx)(nil)

type stubOrderRepo struct {
	findFn func(context.Context, string) (domain.Order, error)
	listFn func(context.Context, string, domain.Pagination) (domain.Page[domain.Order], error)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID, pager)
	}
	return domain.Page[domain.Order]{}, nil
}

type stubStore struct {
	runFn func(context.Context, repositories.OrderTxFunc) error
}

func (s *stubStore) RunOrderTx(ctx context.Context, fn repositories.OrderTxFunc) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx, &stubOrderTx{})
}

type captureEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
	// block, when set, holds every publish until it is closed or the publish context ends.
	block chan struct{}
}

func (c *captureEvents) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureEvents) snapshot() []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OrderEvent(nil), c.events...)
}

// wait polls until n events were delivered.
func (c *captureEvents) wait(t *testing.T, n int) []OrderEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := c.snapshot()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events, got %d", n, len(events))
		}
		time.Sleep(time.Millisecond)
	}
}

type capturedLog struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []capturedLog
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, capturedLog{event: event, fields: fields})
}

// waitFor polls until event was logged.
func (c *captureLogger) waitFor(t *testing.T, event string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.has(event) {
		if time.Now().After(deadline) {
			t.Fatalf("expected log entry %s", event)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}
