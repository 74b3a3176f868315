package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRouterUnregisteredGroupsAnswerNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/api/v1/orders", "/api/v1/orders/abc", "/api/v1/admin/counter"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, rr.Code)
		}
	}
}

func TestNewRouterNotFoundIsJSON(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "route_not_found" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["request_id"] == nil {
		t.Fatal("expected request id from default middleware")
	}
}

func TestNewRouterAppliesExtraMiddleware(t *testing.T) {
	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(WithMiddlewares(mw))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Fatal("expected middleware to run")
	}
}
