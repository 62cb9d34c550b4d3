package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds shared by the checkout, order and payment flows.
var (
	ErrProductNotFound            = errors.New("product not found")
	ErrOrderNotFound              = errors.New("order not found")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInvalidStatus              = errors.New("invalid order status")
	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrReconciliationMismatch     = errors.New("payment reconciliation mismatch")
	ErrPaymentProviderUnavailable = errors.New("payment provider unavailable")
	ErrDuplicateSession           = errors.New("payment session already assigned")
	ErrInvalidInput               = errors.New("invalid input")
	ErrOutstandingCommitments     = errors.New("order has outstanding inventory commitments")
	ErrCheckoutInProgress         = errors.New("checkout with this idempotency key is in progress")
	ErrForbidden                  = errors.New("forbidden")
	ErrCategoryNotFound           = errors.New("category not found")
	ErrCategoryExists             = errors.New("category already exists")
	ErrCategoryInUse              = errors.New("category is used by products")
)

// StockError names the product whose stock could not cover a request.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested: %d, available: %d)", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// InsufficientStock builds a StockError for productID.
func InsufficientStock(productID string, requested, available int) error {
	return &StockError{ProductID: productID, Requested: requested, Available: available}
}

// Invalid wraps ErrInvalidInput with a client-facing reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the status code the HTTP layer should answer with.
// Anything not recognised is an internal error.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrCategoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrOutstandingCommitments), errors.Is(err, ErrCheckoutInProgress),
		errors.Is(err, ErrCategoryExists), errors.Is(err, ErrCategoryInUse):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrPaymentProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is a validation failure the caller can fix.
func IsClientError(err error) bool {
	status := HTTPStatus(err)
	return status >= 400 && status < 500
}
