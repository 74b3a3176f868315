package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/platform/requestctx"
	"github.com/finitefield/order-desk/internal/repositories"
)

const (
	instrumentationName = "github.com/finitefield/order-desk/internal/services"

	orderEventCreated  = "order.created"
	orderEventIDPrefix = "oev_"

	defaultEventTimeout = 10 * time.Second
)

// OrderEvent is emitted after an order commits.
type OrderEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	OrderNumber   int64     `json:"orderNumber"`
	UserID        string    `json:"uid"`
	LineCount     int       `json:"lineCount"`
	TotalQuantity int64     `json:"totalQuantity"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Store        repositories.OrderStore
	Orders       repositories.OrderRepository
	Events       OrderEventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
	Tracer       trace.Tracer
	Meter        metric.Meter
	MaxLineItems int
	// EventTimeout bounds one background publish of an order event.
	EventTimeout time.Duration
}

type orderService struct {
	store    repositories.OrderStore
	orders   repositories.OrderRepository
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	lines    metric.Int64Histogram
	maxLines int
	eventTTL time.Duration
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Store == nil {
		return nil, errors.New("order service: order store is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zapEventLogger
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	outcomes, err := meter.Int64Counter("orders.create.outcomes",
		metric.WithDescription("Order creation attempts by outcome kind"))
	if err != nil {
		return nil, err
	}
	lines, err := meter.Int64Histogram("orders.create.line_items",
		metric.WithDescription("Accepted line items per committed order"))
	if err != nil {
		return nil, err
	}
	maxLines := deps.MaxLineItems
	if maxLines <= 0 {
		maxLines = defaultMaxLineItems
	}
	eventTTL := deps.EventTimeout
	if eventTTL <= 0 {
		eventTTL = defaultEventTimeout
	}

	return &orderService{
		store:  deps.Store,
		orders: deps.Orders,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    newID,
		logger:   logger,
		tracer:   tracer,
		outcomes: outcomes,
		lines:    lines,
		maxLines: maxLines,
		eventTTL: eventTTL,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (result CreateOrderResult, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.create")
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(FailureKindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		} else {
			span.SetAttributes(attribute.Int64("order.number", result.OrderNumber))
		}
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		span.End()
	}()

	if strings.TrimSpace(cmd.UserID) == "" {
		return CreateOrderResult{}, newFailure(FailureUnauthenticated, "caller identity is required", nil)
	}
	draft, err := assembleOrder(cmd, s.maxLines)
	if err != nil {
		return CreateOrderResult{}, err
	}
	span.SetAttributes(attribute.Int("order.line_count", len(draft.lines)))

	var committed domain.Order
	attempts := 0
	txErr := s.store.RunOrderTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
		attempts++
		order, err := s.writeOrder(ctx, tx, draft)
		if err != nil {
			return err
		}
		committed = order
		return nil
	})
	if txErr != nil {
		failure := classifyStoreError(txErr)
		s.logger(ctx, "order.create.failed", map[string]any{
			"kind":     string(failure.Kind),
			"attempts": attempts,
			"userId":   draft.userID,
			"error":    txErr.Error(),
		})
		return CreateOrderResult{}, failure
	}

	s.lines.Record(ctx, int64(committed.LineCount))
	s.logger(ctx, "order.create.committed", map[string]any{
		"orderId":     committed.ID,
		"orderNumber": committed.OrderNumber,
		"lineCount":   committed.LineCount,
		"attempts":    attempts,
	})
	s.publishCreated(ctx, committed)

	return CreateOrderResult{
		OrderID:     committed.ID,
		OrderNumber: committed.OrderNumber,
		LineCount:   committed.LineCount,
	}, nil
}

// writeOrder is the transaction body. All state lives in locals so that a retried attempt
// starts from fresh reads.
func (s *orderService) writeOrder(ctx context.Context, tx repositories.OrderTx, draft orderDraft) (domain.Order, error) {
	resolver := newCatalogResolver(tx)
	resolved := make([]domain.SKU, len(draft.lines))
	for i, line := range draft.lines {
		sku, err := resolver.Resolve(ctx, line)
		if err != nil {
			return domain.Order{}, err
		}
		resolved[i] = sku
	}

	allocator := newSerialAllocator(tx)
	orderNumber, err := allocator.Reserve(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	if err := allocator.Stage(); err != nil {
		return domain.Order{}, err
	}

	aggregator := newQuantityAggregator()
	for i, line := range draft.lines {
		if err := aggregator.Add(resolved[i].Ref(), line.quantity); err != nil {
			return domain.Order{}, err
		}
	}
	if err := aggregator.Stage(tx); err != nil {
		return domain.Order{}, err
	}

	order := draft.header(tx.NewOrderID(), orderNumber, s.clock())
	if err := tx.CreateOrder(order); err != nil {
		return domain.Order{}, err
	}
	for i, line := range draft.lines {
		detail := draft.detail(order, line, resolved[i])
		id, err := tx.CreateOrderDetail(detail)
		if err != nil {
			return domain.Order{}, err
		}
		detail.ID = id
		order.Details = append(order.Details, detail)
	}
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, newFailure(FailureUnauthenticated, "caller identity is required", nil)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || strings.Contains(orderID, "/") {
		return domain.Order{}, &OrderFailure{Kind: FailureValidation, Message: "order id is invalid", Fields: []string{"orderId"}}
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, classifyStoreError(err)
	}
	if order.UserID != userID {
		return domain.Order{}, newFailure(FailureNotFound, "order "+orderID+" not found", nil)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.Page[domain.Order], error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Page[domain.Order]{}, newFailure(FailureUnauthenticated, "caller identity is required", nil)
	}
	page, err := s.orders.ListByUser(ctx, userID, cmd.Pagination)
	if err != nil {
		return domain.Page[domain.Order]{}, classifyStoreError(err)
	}
	return page, nil
}

// publishCreated hands the event to a background goroutine once the order has committed.
// CreateOrder never waits for delivery; failures are logged only.
func (s *orderService) publishCreated(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		ID:            orderEventIDPrefix + s.newID(),
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		LineCount:     order.LineCount,
		TotalQuantity: order.TotalQuantity,
		OccurredAt:    s.clock(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventTTL)
	go func() {
		defer cancel()
		if err := s.events.PublishOrderEvent(pubCtx, event); err != nil {
			s.logger(pubCtx, "order.event.publish.failed", map[string]any{
				"type":  event.Type,
				"order": event.OrderID,
				"error": err.Error(),
			})
		}
	}()
}

func zapEventLogger(ctx context.Context, event string, fields map[string]any) {
	logger := requestctx.Logger(ctx)
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	if strings.HasSuffix(event, ".failed") {
		logger.Warn(event, zapFields...)
		return
	}
	logger.Info(event, zapFields...)
}
