package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/services"
)

func newAdminRouter(svc services.CatalogService) http.Handler {
	h := NewAdminHandlers(newTestAuthenticator(), svc)
	return NewRouter(WithAdminRoutes(h.Routes))
}

func TestAdminHandlersRequireAdminRole(t *testing.T) {
	router := newAdminRouter(&stubCatalogService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/admin/counter", nil), "user-1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer, got %d", rr.Code)
	}
}

func TestAdminHandlersCounter(t *testing.T) {
	svc := &stubCatalogService{}
	router := newAdminRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(httptest.NewRequest(http.MethodGet, "/api/v1/admin/counter", nil), "ops:admin"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before init, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/counter", strings.NewReader(`{"value": 1000}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(req, "ops:admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["count"] != float64(1000) {
		t.Fatalf("unexpected body %v", body)
	}
	if svc.inits[0].ActorID != "ops" {
		t.Fatalf("expected actor from token, got %+v", svc.inits[0])
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/admin/counter", strings.NewReader(`{"value": 5}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(req, "ops:admin"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 without force, got %d", rr.Code)
	}
}

func TestAdminHandlersImportProduct(t *testing.T) {
	svc := &stubCatalogService{}
	router := newAdminRouter(svc)

	body := `{"productNumber": "W-100", "productName": "Work jacket", "salePrice": 4800,
	          "skus": [{"id": "A", "size": "M", "sortNum": 1}]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/products/p-1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(req, "ops:admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	stored := svc.products["p-1"]
	if stored.ProductNumber != "W-100" || len(stored.SKUs) != 1 || stored.SKUs[0].Size != "M" {
		t.Fatalf("unexpected stored product %+v", stored)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/admin/products/p-1", strings.NewReader(`{"id": "p-2", "skus": []}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(req, "ops:admin"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched id, got %d", rr.Code)
	}
}

func TestAdminHandlersImportConflict(t *testing.T) {
	svc := &stubCatalogService{importFn: func(domain.Product) error {
		return &services.OrderFailure{Kind: services.FailureConflict, Message: "sku A already belongs to product p-9"}
	}}
	router := newAdminRouter(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/products/p-1", strings.NewReader(`{"skus": [{"id": "A"}]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(req, "ops:admin"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
