package services

import (
	"context"
	"errors"

	"github.com/finitefield/order-desk/internal/repositories"
)

// FailureKind discriminates order failures for callers.
type FailureKind string

const (
	FailureValidation      FailureKind = "validation_failure"
	FailureEmptyOrder      FailureKind = "empty_order"
	FailureUnauthenticated FailureKind = "unauthenticated"
	FailureNotFound        FailureKind = "not_found"
	FailureAmbiguousSKU    FailureKind = "ambiguous_sku"
	FailureConflict        FailureKind = "conflict"
	FailureStore           FailureKind = "store_error"
)

// FailureAction tells the caller what the user should do next.
type FailureAction string

const (
	ActionResubmit       FailureAction = "resubmit"
	ActionSignIn         FailureAction = "sign_in"
	ActionRetry          FailureAction = "retry"
	ActionContactSupport FailureAction = "contact_support"
)

// OrderFailure is the single error type returned by OrderService. Message is a short English
// summary; localisation belongs to the caller.
type OrderFailure struct {
	Kind    FailureKind
	Message string
	// Fields lists offending input fields for validation failures.
	Fields []string
	Err    error
}

func (f *OrderFailure) Error() string {
	if f == nil {
		return ""
	}
	if f.Message == "" {
		return "order: " + string(f.Kind)
	}
	return "order: " + string(f.Kind) + ": " + f.Message
}

func (f *OrderFailure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Action maps the failure kind onto the user-facing remedy.
func (f *OrderFailure) Action() FailureAction {
	if f == nil {
		return ""
	}
	switch f.Kind {
	case FailureValidation, FailureEmptyOrder:
		return ActionResubmit
	case FailureUnauthenticated:
		return ActionSignIn
	case FailureConflict, FailureStore:
		return ActionRetry
	default:
		return ActionContactSupport
	}
}

// FailureKindOf returns the kind carried by err, or FailureStore for foreign errors.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var failure *OrderFailure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return FailureStore
}

func newFailure(kind FailureKind, message string, err error) *OrderFailure {
	return &OrderFailure{Kind: kind, Message: message, Err: err}
}

// classifyStoreError turns repository and transaction errors into failures. Context errors
// stay reachable through errors.Is.
func classifyStoreError(err error) *OrderFailure {
	if err == nil {
		return nil
	}
	var failure *OrderFailure
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, context.Canceled) {
		return newFailure(FailureStore, "request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newFailure(FailureStore, "transaction timed out", err)
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorSKUNotFound:
			return newFailure(FailureNotFound, orderErr.Message, err)
		case repositories.OrderErrorCounterNotFound:
			return newFailure(FailureNotFound, "order number counter is not initialised", err)
		case repositories.OrderErrorOrderNotFound, repositories.OrderErrorProductNotFound:
			return newFailure(FailureNotFound, orderErr.Message, err)
		case repositories.OrderErrorSKUAmbiguous:
			return newFailure(FailureAmbiguousSKU, orderErr.Message, err)
		case repositories.OrderErrorSKUOwnedElsewhere:
			return newFailure(FailureConflict, orderErr.Message, err)
		case repositories.OrderErrorInvalidInput:
			return newFailure(FailureValidation, orderErr.Message, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return newFailure(FailureConflict, "order could not be committed because of concurrent updates", err)
		case repoErr.IsNotFound():
			return newFailure(FailureNotFound, "document not found", err)
		case repoErr.IsUnavailable():
			return newFailure(FailureStore, "store temporarily unavailable", err)
		}
	}
	return newFailure(FailureStore, "unexpected store error", err)
}
