package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/finitefield/order-desk/internal/domain"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	h := NewHealthHandlers(WithHealthClock(func() time.Time { return now }))
	now = start.Add(90 * time.Second)

	rr := httptest.NewRecorder()
	NewRouter(WithHealthHandlers(h)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		system *stubSystemService
		status int
	}{
		{
			name: "ok",
			system: &stubSystemService{report: domain.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Version:     "1.0.0",
				Checks:      map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond}},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded stays in rotation",
			system: &stubSystemService{report: domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: domain.HealthStatusDegraded, Detail: "slow"}},
			}},
			status: http.StatusOK,
		},
		{
			name: "error",
			system: &stubSystemService{report: domain.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError, Detail: "timeout"}},
			}},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "report failure",
			system: &stubSystemService{err: errors.New("boom")},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthSystemService(tc.system), WithHealthClock(func() time.Time { return now }))
			rr := httptest.NewRecorder()
			NewRouter(WithHealthHandlers(h)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}
