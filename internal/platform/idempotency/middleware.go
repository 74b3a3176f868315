package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finitefield/order-desk/internal/platform/auth"
	"github.com/finitefield/order-desk/internal/platform/httpx"
	"github.com/finitefield/order-desk/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client-chosen submission key.
	DefaultHeader    = "Idempotency-Key"
	replayHeaderName = "X-Idempotent-Replay"
	maxKeyLength     = 255
	maxCapturedBody  = 1 << 20
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long stored responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response when a client resubmits the same keyed request.
// Requests without the header pass through untouched. Keys are scoped to the authenticated
// user, so the middleware must run after authentication.
//
// Only final outcomes are stored: server errors and conflicts release the key so the client
// can retry the same submission.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		headerName: DefaultHeader,
		ttl:        DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rawKey := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(rawKey) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody+1))
			_ = r.Body.Close()
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			if len(body) > maxCapturedBody {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := scopedKey(auth.UserID(ctx), rawKey)
			fingerprint := fingerprintRequest(r, body)
			logger := requestctx.Logger(ctx).With(zap.String("idempotencyKey", rawKey))

			state, record, err := store.Reserve(ctx, key, fingerprint, cfg.clock(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process request", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateCompleted:
				logger.Info("idempotent replay", zap.Int("status", record.Status))
				replay(w, record)
				return
			case StateInFlight:
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					releaseKey(ctx, store, key, logger)
					panic(rec)
				}
			}()
			next.ServeHTTP(recorder, r)

			status := recorder.status
			if !storable(status) {
				releaseKey(ctx, store, key, logger)
				return
			}
			record.Completed = true
			record.Status = status
			record.ContentType = recorder.Header().Get("Content-Type")
			record.Location = recorder.Header().Get("Location")
			record.Body = recorder.body.Bytes()
			if err := store.Complete(context.WithoutCancel(ctx), record); err != nil {
				logger.Error("idempotency persist failed", zap.Error(err))
			}
		})
	}
}

// storable reports whether an outcome is final for the submission.
func storable(status int) bool {
	if status >= http.StatusInternalServerError {
		return false
	}
	return status != http.StatusConflict && status != http.StatusTooManyRequests
}

func releaseKey(ctx context.Context, store Store, key string, logger *zap.Logger) {
	if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("idempotency release failed", zap.Error(err))
	}
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	if record.ContentType != "" {
		header.Set("Content-Type", record.ContentType)
	}
	if record.Location != "" {
		header.Set("Location", record.Location)
	}
	header.Set("Cache-Control", "no-store")
	header.Set(replayHeaderName, "true")
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

func scopedKey(userID, key string) string {
	return userID + "\x00" + key
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
