package payment

import (
	"errors"
	"net/http"

	"github.com/noah-isme/kashier-bridge/internal/common"
)

var (
	// ErrNotConfigured is returned when merchant id or the active key pair is missing.
	ErrNotConfigured = errors.New("payment: gateway not configured")
	// ErrUnknownMethod is returned for a method key outside the catalog.
	ErrUnknownMethod = errors.New("payment: unknown payment method")

	// ErrAmountMismatch is returned when a checkout request disagrees with
	// the stored order's amount or currency.
	ErrAmountMismatch = errors.New("payment: amount does not match order")

	// ErrMalformedNotification marks an unparseable server callback.
	ErrMalformedNotification = errors.New("payment: malformed notification")
	// ErrOrderNotFound marks a notification that cannot be correlated to a local order.
	ErrOrderNotFound = errors.New("payment: order not found")
	// ErrSignatureInvalid marks a callback whose signature did not verify.
	ErrSignatureInvalid = errors.New("payment: invalid signature")
	// ErrNoTerminalStatus marks a notification that carries no success status.
	ErrNoTerminalStatus = errors.New("payment: no terminal status")
)

// userError maps redirect-build failures to the error shown to the customer.
func userError(err error) *common.APIError {
	apiErr := &common.APIError{
		Status:  http.StatusInternalServerError,
		Code:    "REDIRECT_FAILED",
		Message: "unable to start payment",
		Cause:   err,
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		apiErr.Status, apiErr.Code = http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED"
		apiErr.Message = "Kashier payment gateway is not configured properly. Please contact the administrator."
	case errors.Is(err, ErrUnknownMethod):
		apiErr.Status, apiErr.Code, apiErr.Message = http.StatusNotFound, "INVALID_PAYMENT_METHOD", "Invalid payment method."
	case errors.Is(err, ErrOrderNotFound):
		apiErr.Status, apiErr.Code, apiErr.Message = http.StatusNotFound, "ORDER_NOT_FOUND", "order not found"
	case errors.Is(err, ErrAmountMismatch):
		apiErr.Status, apiErr.Code, apiErr.Message = http.StatusConflict, "AMOUNT_MISMATCH", "amount does not match the order"
	case errors.Is(err, ErrInvalidOrder):
		apiErr.Status, apiErr.Code, apiErr.Message = http.StatusBadRequest, "INVALID_ORDER", "order cannot be paid"
	}
	return apiErr
}

// resultLabel converts a reconciler error into a metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "paid"
	case errors.Is(err, ErrMalformedNotification):
		return "malformed"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrSignatureInvalid):
		return "invalid_signature"
	case errors.Is(err, ErrNoTerminalStatus):
		return "ignored"
	default:
		return "error"
	}
}
