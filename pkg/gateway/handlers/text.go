package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
	"github.com/vango-go/wit-lite/pkg/gateway/apierror"
	"github.com/vango-go/wit-lite/pkg/gateway/auth"
	"github.com/vango-go/wit-lite/pkg/gateway/mw"
	"github.com/vango-go/wit-lite/pkg/gateway/results"
)

// Querier is the part of *wit.Client the gateway uses.
type Querier interface {
	TextQuery(ctx context.Context, text, token string) (*types.Response, error)
	TextQueryAsync(ctx context.Context, text, token string, cb any) (dispatch.Handle, error)
}

type textRequest struct {
	Text string `json:"text"`
}

// QueryResponse is the body of every query and result endpoint.
type QueryResponse struct {
	Handle string          `json:"handle,omitempty"`
	Kind   types.QueryKind `json:"kind"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *core.Error     `json:"error,omitempty"`
}

// TextHandler runs a text query and waits for the answer.
type TextHandler struct {
	Client       Querier
	DefaultToken string
	Logger       *slog.Logger
}

func (h TextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	text, token, ok := decodeText(w, r, h.DefaultToken, reqID)
	if !ok {
		return
	}

	resp, err := h.Client.TextQuery(r.Context(), text, token)
	if err != nil {
		apierror.WriteError(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Kind:   types.QueryText,
		Status: statusOf(resp),
		Result: resultJSON(resp),
	})
}

// TextAsyncHandler starts a text query and returns its handle. The result is
// collected from the results store.
type TextAsyncHandler struct {
	Client       Querier
	Results      *results.Store
	DefaultToken string
	Logger       *slog.Logger
}

func (h TextAsyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	text, token, ok := decodeText(w, r, h.DefaultToken, reqID)
	if !ok {
		return
	}

	handle, err := h.Client.TextQueryAsync(r.Context(), text, token, h.Results)
	if err != nil {
		apierror.WriteError(w, err, reqID)
		return
	}
	h.Results.Track(handle, types.QueryText)
	if h.Logger != nil {
		h.Logger.Debug("async text query accepted", "request_id", reqID, "handle", handle)
	}

	w.Header().Set("Location", "/v1/results/"+handle.String())
	writeJSON(w, http.StatusAccepted, QueryResponse{
		Handle: handle.String(),
		Kind:   types.QueryText,
		Status: string(results.StatusPending),
		Result: json.RawMessage("null"),
	})
}

// ResultHandler returns the state of an async query.
type ResultHandler struct {
	Results *results.Store
}

func (h ResultHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	handle := dispatch.Handle(chi.URLParam(r, "handle"))

	e, ok := h.Results.Get(handle)
	if !ok {
		apierror.Write(w, http.StatusNotFound, &core.Error{
			Type:    apierror.ErrNotFound,
			Message: "unknown or expired handle",
			Param:   "handle",
		}, reqID)
		return
	}

	out := QueryResponse{
		Handle: e.Handle.String(),
		Kind:   e.Kind,
		Result: json.RawMessage("null"),
	}
	switch {
	case e.Status == results.StatusPending:
		out.Status = string(results.StatusPending)
	case e.Err != nil:
		out.Status = "error"
		out.Error = e.ErrorOf()
	default:
		out.Status = statusOf(e.Response)
		out.Result = resultJSON(e.Response)
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeText(w http.ResponseWriter, r *http.Request, defaultToken, reqID string) (text, token string, ok bool) {
	token, ok = auth.Token(r, defaultToken)
	if !ok {
		apierror.Write(w, http.StatusUnauthorized, &core.Error{
			Type:    apierror.ErrAuthentication,
			Message: "missing bearer token",
			Param:   "Authorization",
		}, reqID)
		return "", "", false
	}

	var req textRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		apierror.Write(w, status, &core.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "invalid request body: " + err.Error(),
		}, reqID)
		return "", "", false
	}
	return req.Text, token, true
}

func statusOf(resp *types.Response) string {
	if resp.IsEmpty() {
		return "empty"
	}
	return "ok"
}

// resultJSON embeds JSON payloads as-is and anything else as a string.
func resultJSON(resp *types.Response) json.RawMessage {
	if resp.IsEmpty() {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(resp.Raw)) {
		return json.RawMessage(resp.Raw)
	}
	b, _ := json.Marshal(resp.Raw)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
