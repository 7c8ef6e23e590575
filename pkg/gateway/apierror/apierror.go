package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/wit-lite/pkg/core"
)

// Gateway-only error types. Query errors keep their core type.
const (
	ErrNotFound       core.ErrorType = "not_found_error"
	ErrAuthentication core.ErrorType = "authentication_error"
	ErrInvalidRequest core.ErrorType = "invalid_request_error"
	ErrAPI            core.ErrorType = "api_error"
)

type Envelope struct {
	Error     *core.Error `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

// FromError maps err to a canonical error and its HTTP status.
func FromError(err error) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{Type: ErrAPI, Message: "request timeout"}, http.StatusGatewayTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		return &out, statusFor(coreErr)
	}

	// Unknown errors: do not leak details.
	return &core.Error{Type: ErrAPI, Message: "internal error"}, http.StatusInternalServerError
}

func statusFor(e *core.Error) int {
	switch e.Type {
	case core.ErrInvalidArgument, core.ErrInvalidCallback, ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrUninitialized:
		return http.StatusServiceUnavailable
	case core.ErrQueryInProgress:
		return http.StatusConflict
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case core.ErrBackend:
		switch e.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes err as a JSON envelope with the given status.
func Write(w http.ResponseWriter, status int, err *core.Error, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err, RequestID: requestID})
}

// WriteError maps err and writes it.
func WriteError(w http.ResponseWriter, err error, requestID string) {
	coreErr, status := FromError(err)
	Write(w, status, coreErr, requestID)
}
