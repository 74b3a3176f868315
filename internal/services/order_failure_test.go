package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/finitefield/order-desk/internal/repositories"
)

type stubRepoError struct {
	notFound, conflict, unavailable bool
}

func (e stubRepoError) Error() string       { return "repository failure" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func TestClassifyStoreError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"sku missing", repositories.NewOrderError(repositories.OrderErrorSKUNotFound, "sku x not found", nil), FailureNotFound},
		{"counter missing", repositories.NewOrderError(repositories.OrderErrorCounterNotFound, "", nil), FailureNotFound},
		{"ambiguous", repositories.NewOrderError(repositories.OrderErrorSKUAmbiguous, "", nil), FailureAmbiguousSKU},
		{"bad input", repositories.NewOrderError(repositories.OrderErrorInvalidInput, "", nil), FailureValidation},
		{"read after write", repositories.NewOrderError(repositories.OrderErrorReadAfterWrite, "", nil), FailureStore},
		{"conflict", fmt.Errorf("commit: %w", stubRepoError{conflict: true}), FailureConflict},
		{"not found", stubRepoError{notFound: true}, FailureNotFound},
		{"unavailable", stubRepoError{unavailable: true}, FailureStore},
		{"cancelled", fmt.Errorf("tx: %w", context.Canceled), FailureStore},
		{"deadline", context.DeadlineExceeded, FailureStore},
		{"foreign", errors.New("boom"), FailureStore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			failure := classifyStoreError(tc.err)
			if failure.Kind != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, failure.Kind)
			}
			if !errors.Is(failure, tc.err) {
				t.Fatalf("expected cause to remain reachable")
			}
		})
	}
}

func TestClassifyStoreErrorKeepsExistingFailure(t *testing.T) {
	original := newFailure(FailureEmptyOrder, "empty", nil)
	if got := classifyStoreError(fmt.Errorf("wrapped: %w", original)); got != original {
		t.Fatalf("expected the original failure, got %v", got)
	}
}

func TestOrderFailureActions(t *testing.T) {
	cases := map[FailureKind]FailureAction{
		FailureValidation:      ActionResubmit,
		FailureEmptyOrder:      ActionResubmit,
		FailureUnauthenticated: ActionSignIn,
		FailureConflict:        ActionRetry,
		FailureStore:           ActionRetry,
		FailureNotFound:        ActionContactSupport,
		FailureAmbiguousSKU:    ActionContactSupport,
	}
	for kind, want := range cases {
		if got := (&OrderFailure{Kind: kind}).Action(); got != want {
			t.Fatalf("%s: expected %s, got %s", kind, want, got)
		}
	}
}

func TestFailureKindOf(t *testing.T) {
	if kind := FailureKindOf(nil); kind != "" {
		t.Fatalf("expected empty kind for nil, got %s", kind)
	}
	if kind := FailureKindOf(errors.New("x")); kind != FailureStore {
		t.Fatalf("expected store error for foreign errors, got %s", kind)
	}
	if msg := newFailure(FailureConflict, "busy", nil).Error(); msg != "order: conflict: busy" {
		t.Fatalf("unexpected message %q", msg)
	}
}
