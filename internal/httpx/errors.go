package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeDependency        Code = "DEPENDENCY_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

type codeMeta struct {
	status         int
	publicMessage  string
	detailsAllowed bool
	// ownMessage lets the error's text reach the client.
	ownMessage bool
}

var codes = map[Code]codeMeta{
	CodeValidation:        {http.StatusBadRequest, "validation failed", true, true},
	CodeUnauthorized:      {http.StatusUnauthorized, "authentication required", false, false},
	CodeForbidden:         {http.StatusForbidden, "access denied", false, false},
	CodeNotFound:          {http.StatusNotFound, "resource not found", false, false},
	CodeConflict:          {http.StatusConflict, "conflicting request in progress", false, false},
	CodeInsufficientStock: {http.StatusConflict, "insufficient stock", true, false},
	CodeStateConflict:     {http.StatusConflict, "state transition disallowed", true, true},
	CodeDependency:        {http.StatusServiceUnavailable, "dependency unavailable", false, false},
	CodeInternal:          {http.StatusInternalServerError, "internal server error", false, false},
}

// Error is an HTTP-layer error with an explicit code, used for request
// decoding and validation failures.
type Error struct {
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func classify(err error) (Code, any) {
	var (
		he  *Error
		ise *orders.InsufficientStockError
		ite *orders.InvalidTransitionError
		pce *orders.ProviderCommunicationError
	)
	switch {
	case errors.As(err, &he):
		return he.Code, he.Details
	case errors.As(err, &ise):
		return CodeInsufficientStock, map[string]any{"shortages": ise.Shortages}
	case errors.As(err, &ite):
		return CodeStateConflict, map[string]any{"from": ite.From, "to": ite.To}
	case errors.As(err, &pce), errors.Is(err, orders.ErrDependencyUnavailable):
		return CodeDependency, nil
	case errors.Is(err, orders.ErrUnauthenticated):
		return CodeUnauthorized, nil
	case errors.Is(err, orders.ErrForbidden):
		return CodeForbidden, nil
	case errors.Is(err, orders.ErrNotFound):
		return CodeNotFound, nil
	case errors.Is(err, orders.ErrConflict):
		return CodeConflict, nil
	case errors.Is(err, orders.ErrInvalidItems),
		errors.Is(err, orders.ErrInvalidInput),
		errors.Is(err, orders.ErrProductUnavailable):
		return CodeValidation, nil
	}
	return CodeInternal, nil
}

// writeError renders err as the error envelope. Server-side failures are
// logged with the full chain; client errors at debug level.
func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	code, details := classify(err)
	meta := codes[code]

	msg := meta.publicMessage
	if meta.ownMessage {
		var he *Error
		if errors.As(err, &he) {
			msg = he.Message
		} else {
			msg = err.Error()
		}
	}
	body := ErrorEnvelope{Error: APIError{Code: string(code), Message: msg}}
	if meta.detailsAllowed {
		body.Error.Details = details
	}

	lctx := log.WithFields(ctx, map[string]any{"error_code": code, "status": meta.status})
	if meta.status >= http.StatusInternalServerError {
		log.Error(lctx, "request failed", err)
	} else {
		log.Debug(log.WithField(lctx, "error", err.Error()), "request rejected")
	}
	writeJSON(w, meta.status, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
