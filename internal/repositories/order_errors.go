package repositories

import (
	"errors"
	"fmt"
)

// OrderErrorCode enumerates failure reasons raised by order persistence.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorInvalidInput indicates the caller supplied invalid arguments.
	OrderErrorInvalidInput OrderErrorCode = "order_invalid_input"
	// OrderErrorSKUNotFound indicates no SKU document matched the requested id.
	OrderErrorSKUNotFound OrderErrorCode = "order_sku_not_found"
	// OrderErrorSKUAmbiguous indicates the SKU id matched documents under more than one product.
	OrderErrorSKUAmbiguous OrderErrorCode = "order_sku_ambiguous"
	// OrderErrorCounterNotFound indicates the order number counter was never initialised.
	OrderErrorCounterNotFound OrderErrorCode = "order_counter_not_found"
	// OrderErrorReadAfterWrite indicates a transaction body read after staging a write.
	OrderErrorReadAfterWrite OrderErrorCode = "order_read_after_write"
	// OrderErrorSKUOwnedElsewhere indicates a catalogue import reused a SKU id of another product.
	OrderErrorSKUOwnedElsewhere OrderErrorCode = "order_sku_owned_elsewhere"
	// OrderErrorOrderNotFound indicates the order document is absent or not visible to the caller.
	OrderErrorOrderNotFound OrderErrorCode = "order_not_found"
	// OrderErrorProductNotFound indicates the product document is absent.
	OrderErrorProductNotFound OrderErrorCode = "order_product_not_found"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error describes a missing document.
func (e *OrderError) IsNotFound() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case OrderErrorSKUNotFound, OrderErrorCounterNotFound, OrderErrorOrderNotFound, OrderErrorProductNotFound:
		return true
	}
	return false
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// OrderErrorCodeOf extracts the code from err, or OrderErrorUnknown when err carries none.
func OrderErrorCodeOf(err error) OrderErrorCode {
	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return orderErr.Code
	}
	return OrderErrorUnknown
}
