package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/platform/idempotency"
	"github.com/finitefield/order-desk/internal/services"
)

func newOrderRouter(svc services.OrderService) chi.Router {
	h := NewOrderHandlers(newTestAuthenticator(), svc)
	return NewRouter(WithOrderRoutes(h.Routes))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

const createOrderBody = `{
  "submitter": {"section": "Works", "employeeCode": 1024, "username": "Sato", "siteCode": "S-1",
                "siteName": "Harbour", "address": "1-2-3 Minato", "tel": "03-1234-5678"},
  "lines": [{"skuId": "A", "quantity": 2, "hem": 72}, {"skuId": "B", "productId": "p-1", "quantity": 1}]
}`

func TestOrderHandlersCreateOrder(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{OrderID: "ord-1", OrderNumber: 42, LineCount: len(cmd.Lines)}, nil
		},
	}
	router := newOrderRouter(svc)

	req := withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(createOrderBody)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ord-1" {
		t.Fatalf("unexpected location %q", loc)
	}
	body := decodeBody(t, rr)
	if body["orderNumber"] != float64(42) || body["orderId"] != "ord-1" || body["lineCount"] != float64(2) {
		t.Fatalf("unexpected body %v", body)
	}

	if len(svc.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(svc.created))
	}
	cmd := svc.created[0]
	if cmd.UserID != "user-1" {
		t.Fatalf("expected uid from token, got %q", cmd.UserID)
	}
	if cmd.Submitter.EmployeeCode != 1024 || cmd.Submitter.Tel != "03-1234-5678" {
		t.Fatalf("unexpected submitter %+v", cmd.Submitter)
	}
	if cmd.Lines[0].Hem == nil || *cmd.Lines[0].Hem != 72 || cmd.Lines[1].ProductID != "p-1" {
		t.Fatalf("unexpected lines %+v", cmd.Lines)
	}
}

func TestOrderHandlersReplaysKeyedSubmission(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{OrderID: "ord-1", OrderNumber: 42, LineCount: len(cmd.Lines)}, nil
		},
	}
	h := NewOrderHandlers(newTestAuthenticator(), svc, WithSubmissionGuard(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := NewRouter(WithOrderRoutes(h.Routes))

	for i := 0; i < 2; i++ {
		req := withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(createOrderBody)), "user-1")
		req.Header.Set(idempotency.DefaultHeader, "submit-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d: %s", i, rr.Code, rr.Body.String())
		}
		if body := decodeBody(t, rr); body["orderNumber"] != float64(42) {
			t.Fatalf("attempt %d: unexpected body %v", i, body)
		}
	}
	if len(svc.created) != 1 {
		t.Fatalf("expected a single order creation, got %d", len(svc.created))
	}
}

func TestOrderHandlersCreateOrderRequiresToken(t *testing.T) {
	svc := &stubOrderService{}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(createOrderBody)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["action"] != "sign_in" {
		t.Fatalf("expected sign_in action, got %v", body)
	}
	if len(svc.created) != 0 {
		t.Fatal("service must not be called")
	}
}

func TestOrderHandlersCreateOrderRejectsMalformedBody(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"unknown field": `{"lines": [], "coupon": "x"}`,
		"bad type":      `{"lines": [{"skuId": "A", "quantity": "two"}]}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			svc := &stubOrderService{}
			router := newOrderRouter(svc)
			req := withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(payload)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != "invalid_request" || body["action"] != "resubmit" {
				t.Fatalf("unexpected body %v", body)
			}
			if len(svc.created) != 0 {
				t.Fatal("service must not be called")
			}
		})
	}
}

func TestOrderHandlersMapsFailures(t *testing.T) {
	tests := []struct {
		failure *services.OrderFailure
		status  int
		action  string
	}{
		{&services.OrderFailure{Kind: services.FailureValidation, Message: "invalid fields: tel", Fields: []string{"tel"}}, http.StatusBadRequest, "resubmit"},
		{&services.OrderFailure{Kind: services.FailureEmptyOrder, Message: "no lines"}, http.StatusUnprocessableEntity, "resubmit"},
		{&services.OrderFailure{Kind: services.FailureNotFound, Message: "sku Z not found"}, http.StatusNotFound, "contact_support"},
		{&services.OrderFailure{Kind: services.FailureAmbiguousSKU, Message: "sku A is ambiguous"}, http.StatusConflict, "contact_support"},
		{&services.OrderFailure{Kind: services.FailureConflict, Message: "busy"}, http.StatusConflict, "retry"},
		{&services.OrderFailure{Kind: services.FailureStore, Message: "rpc error: code = Internal"}, http.StatusServiceUnavailable, "retry"},
	}
	for _, tc := range tests {
		t.Run(string(tc.failure.Kind), func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
					return services.CreateOrderResult{}, tc.failure
				},
			}
			router := newOrderRouter(svc)
			req := withBearer(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(createOrderBody)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != string(tc.failure.Kind) || body["action"] != tc.action {
				t.Fatalf("unexpected body %v", body)
			}
			if tc.failure.Kind == services.FailureStore && strings.Contains(body["message"].(string), "rpc error") {
				t.Fatalf("store details leaked: %v", body["message"])
			}
			if tc.failure.Kind == services.FailureValidation {
				fields, _ := body["fields"].([]any)
				if len(fields) != 1 || fields[0] != "tel" {
					t.Fatalf("expected offending fields, got %v", body["fields"])
				}
			}
		})
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	inseam := int64(70)
	created := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		getFn: func(_ context.Context, cmd services.GetOrderCommand) (domain.Order, error) {
			if cmd.UserID != "user-1" || cmd.OrderID != "ord-1" {
				return domain.Order{}, &services.OrderFailure{Kind: services.FailureNotFound}
			}
			return domain.Order{
				ID:            "ord-1",
				OrderNumber:   42,
				Status:        domain.OrderStatusPending,
				UserID:        "user-1",
				LineCount:     1,
				TotalQuantity: 2,
				CreatedAt:     created,
				UpdatedAt:     created,
				Details: []domain.OrderDetail{{
					ID:       "d-1",
					SKU:      domain.SKURef{ProductID: "p-1", SKUID: "A"},
					Quantity: 2, OrderQuantity: 2, Inseam: &inseam, SortNum: 1,
				}},
			}, nil
		},
	}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord-1", nil), "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.OrderNumber != 42 || payload.CreatedAt != "2025-04-01T09:00:00Z" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Details) != 1 || payload.Details[0].SKUID != "A" || payload.Details[0].Inseam == nil || *payload.Details[0].Inseam != 70 {
		t.Fatalf("unexpected details %+v", payload.Details)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord-1", nil), "user-2"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(_ context.Context, cmd services.ListOrdersCommand) (domain.Page[domain.Order], error) {
			return domain.Page[domain.Order]{
				Items:         []domain.Order{{ID: "ord-2", OrderNumber: 43}, {ID: "ord-1", OrderNumber: 42}},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/orders?pageSize=500&pageToken=tok", nil), "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].OrderNumber != 43 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
	cmd := svc.listed[0]
	if cmd.UserID != "user-1" || cmd.Pagination.PageSize != 100 || cmd.Pagination.PageToken != "tok" {
		t.Fatalf("unexpected list command %+v", cmd)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/orders?pageSize=abc", nil), "user-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page size, got %d", rr.Code)
	}
}
