package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/platform/auth"
	"github.com/finitefield/order-desk/internal/platform/httpx"
	"github.com/finitefield/order-desk/internal/platform/pagination"
	"github.com/finitefield/order-desk/internal/platform/requestctx"
	"github.com/finitefield/order-desk/internal/services"
)

const maxOrderRequestBody = 1 << 20

// OrderHandlers exposes the order endpoints for authenticated buyers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	guard  func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithSubmissionGuard wraps order creation, typically with the idempotency middleware.
func WithSubmissionGuard(guard func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.guard = guard
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleBuyer, auth.RoleAdmin))
	}
	if h.guard != nil {
		r.With(h.guard).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

type createOrderRequest struct {
	Submitter submitterPayload   `json:"submitter"`
	Lines     []orderLinePayload `json:"lines"`
}

type submitterPayload struct {
	Section      string `json:"section"`
	EmployeeCode int64  `json:"employeeCode"`
	Initial      string `json:"initial"`
	Username     string `json:"username"`
	Position     string `json:"position"`
	CompanyName  string `json:"companyName"`
	SiteCode     string `json:"siteCode"`
	SiteName     string `json:"siteName"`
	ZipCode      int64  `json:"zipCode"`
	Address      string `json:"address"`
	Tel          string `json:"tel"`
	Applicant    string `json:"applicant"`
	Memo         string `json:"memo"`
}

type orderLinePayload struct {
	SKUID     string `json:"skuId"`
	ProductID string `json:"productId,omitempty"`
	Quantity  int64  `json:"quantity"`
	Hem       *int64 `json:"hem,omitempty"`
}

type createOrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber int64  `json:"orderNumber"`
	LineCount   int    `json:"lineCount"`
}

type orderPayload struct {
	ID            string               `json:"id"`
	OrderNumber   int64                `json:"orderNumber"`
	Status        string               `json:"status"`
	Submitter     submitterPayload     `json:"submitter"`
	LineCount     int                  `json:"lineCount"`
	TotalQuantity int64                `json:"totalQuantity"`
	CreatedAt     string               `json:"createdAt"`
	UpdatedAt     string               `json:"updatedAt"`
	Details       []orderDetailPayload `json:"details,omitempty"`
}

type orderDetailPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	SKUID         string `json:"skuId"`
	ProductNumber string `json:"productNumber"`
	ProductName   string `json:"productName"`
	Size          string `json:"size"`
	SalePrice     int64  `json:"salePrice"`
	OrderQuantity int64  `json:"orderQuantity"`
	Quantity      int64  `json:"quantity"`
	Inseam        *int64 `json:"inseam,omitempty"`
	SortNum       int    `json:"sortNum"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, err := decodeCreateOrderRequest(w, r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"action": string(services.ActionResubmit)}))
		return
	}

	result, err := h.orders.CreateOrder(ctx, req.toCommand(auth.UserID(ctx)))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+result.OrderID)
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		LineCount:   result.LineCount,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.Parse(r.URL.Query(), pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersCommand{
		UserID: auth.UserID(ctx),
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		UserID:  auth.UserID(ctx),
		OrderID: trimmedParam(r, "orderID"),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func decodeCreateOrderRequest(w http.ResponseWriter, r *http.Request) (createOrderRequest, error) {
	body := http.MaxBytesReader(w, r.Body, maxOrderRequestBody)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	var req createOrderRequest
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return createOrderRequest{}, errors.New("request body required")
		case errors.As(err, &tooLarge):
			return createOrderRequest{}, errors.New("request body too large")
		}
		return createOrderRequest{}, errors.New("request body is not valid JSON: " + err.Error())
	}
	return req, nil
}

func (req createOrderRequest) toCommand(userID string) services.CreateOrderCommand {
	s := req.Submitter
	cmd := services.CreateOrderCommand{
		UserID: userID,
		Submitter: services.SubmitterInput{
			Section:      s.Section,
			EmployeeCode: s.EmployeeCode,
			Initial:      s.Initial,
			Username:     s.Username,
			Position:     s.Position,
			CompanyName:  s.CompanyName,
			SiteCode:     s.SiteCode,
			SiteName:     s.SiteName,
			ZipCode:      s.ZipCode,
			Address:      s.Address,
			Tel:          s.Tel,
			Applicant:    s.Applicant,
			Memo:         s.Memo,
		},
		Lines: make([]services.OrderLineInput, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.OrderLineInput{
			SKUID:     line.SKUID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Hem:       line.Hem,
		})
	}
	return cmd
}

func buildOrderPayload(order domain.Order) orderPayload {
	s := order.Submitter
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Submitter: submitterPayload{
			Section:      s.Section,
			EmployeeCode: s.EmployeeCode,
			Initial:      s.Initial,
			Username:     s.Username,
			Position:     s.Position,
			CompanyName:  s.CompanyName,
			SiteCode:     s.SiteCode,
			SiteName:     s.SiteName,
			ZipCode:      s.ZipCode,
			Address:      s.Address,
			Tel:          s.Tel,
			Applicant:    s.Applicant,
			Memo:         s.Memo,
		},
		LineCount:     order.LineCount,
		TotalQuantity: order.TotalQuantity,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	for _, d := range order.Details {
		payload.Details = append(payload.Details, orderDetailPayload{
			ID:            d.ID,
			ProductID:     d.SKU.ProductID,
			SKUID:         d.SKU.SKUID,
			ProductNumber: d.ProductNumber,
			ProductName:   d.ProductName,
			Size:          d.Size,
			SalePrice:     d.SalePrice,
			OrderQuantity: d.OrderQuantity,
			Quantity:      d.Quantity,
			Inseam:        d.Inseam,
			SortNum:       d.SortNum,
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// writeOrderError maps a service failure onto the JSON error envelope. The remedy travels in
// the "action" field so clients can prompt the user without parsing messages.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var failure *services.OrderFailure
	if !errors.As(err, &failure) {
		failure = &services.OrderFailure{Kind: services.FailureStore, Message: "unexpected error", Err: err}
	}

	status := statusForFailure(failure.Kind)
	message := failure.Message
	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("order request failed", zap.String("kind", string(failure.Kind)), zap.Error(err))
		message = "orders are temporarily unavailable"
	}
	details := map[string]any{"action": string(failure.Action())}
	if len(failure.Fields) > 0 {
		details["fields"] = append([]string(nil), failure.Fields...)
	}
	httpx.WriteError(ctx, w, httpx.NewError(string(failure.Kind), message, status).WithDetails(details))
}

func statusForFailure(kind services.FailureKind) int {
	switch kind {
	case services.FailureValidation:
		return http.StatusBadRequest
	case services.FailureEmptyOrder:
		return http.StatusUnprocessableEntity
	case services.FailureUnauthenticated:
		return http.StatusUnauthorized
	case services.FailureNotFound:
		return http.StatusNotFound
	case services.FailureAmbiguousSKU, services.FailureConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// trimmedParam returns a URL parameter without surrounding whitespace.
func trimmedParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
