package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/wit-lite/pkg/core"
)

func TestFromError_Status(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   core.ErrorType
	}{
		{"invalid argument", core.NewInvalidArgumentError("text must not be empty", "text"), 400, core.ErrInvalidArgument},
		{"invalid callback", core.NewInvalidCallbackError("nope"), 400, core.ErrInvalidCallback},
		{"uninitialized", core.NewUninitializedError(), 503, core.ErrUninitialized},
		{"in progress", core.NewQueryInProgressError(), 409, core.ErrQueryInProgress},
		{"backend generic", core.NewBackendError("witai", errors.New("eof")), 502, core.ErrBackend},
		{"backend 401", core.NewBackendStatusError("witai", 401, "no-auth", "bad token"), 401, core.ErrBackend},
		{"backend 429", core.NewBackendStatusError("witai", 429, "", "slow down"), 429, core.ErrBackend},
		{"backend 500", core.NewBackendStatusError("witai", 500, "", "oops"), 502, core.ErrBackend},
		{"wrapped", fmt.Errorf("outer: %w", core.NewQueryInProgressError()), 409, core.ErrQueryInProgress},
		{"deadline", context.DeadlineExceeded, 504, ErrAPI},
		{"unknown", errors.New("secret detail"), 500, ErrAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, status := FromError(tt.err)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if got.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestFromError_UnknownDoesNotLeak(t *testing.T) {
	got, _ := FromError(errors.New("password=hunter2"))
	if got.Message != "internal error" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, core.NewInvalidArgumentError("text must not be empty", "text"), "req_1")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	var env struct {
		Error     core.Error `json:"error"`
		RequestID string     `json:"request_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrInvalidArgument || env.Error.Param != "text" || env.RequestID != "req_1" {
		t.Fatalf("envelope = %+v", env)
	}
}
