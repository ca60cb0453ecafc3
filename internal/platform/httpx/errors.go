// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidStateTransition),
		errors.Is(err, shared.ErrAlreadyInvoiced),
		errors.Is(err, shared.ErrAlreadyPosted),
		errors.Is(err, shared.ErrAlreadyConverted),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInsufficientStock),
		errors.Is(err, shared.ErrExpiredBatch),
		errors.Is(err, shared.ErrExpiredOnReceipt),
		errors.Is(err, shared.ErrImmutableField),
		errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fx.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, "Internal Error", "")
		return
	}
	Problem(w, status, http.StatusText(status), err.Error())
}
