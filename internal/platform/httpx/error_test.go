package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finitefield/order-desk/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	err := NewError("validation_failure", "invalid fields:\n tel", http.StatusBadRequest).
		WithDetails(map[string]any{"action": "resubmit", "status": 999})
	WriteError(ctx, rr, err)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "validation_failure", body["error"])
	assert.Equal(t, "invalid fields:  tel", body["message"])
	assert.Equal(t, "resubmit", body["action"])
	assert.Equal(t, float64(http.StatusBadRequest), body["status"])
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.NotContains(t, body, "request_id")
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("boom", "", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}
