package handlers

import (
	"net/http"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/gateway/apierror"
	"github.com/vango-go/wit-lite/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusNotFound, &core.Error{
		Type:    apierror.ErrNotFound,
		Message: "not found",
	}, reqID)
}

type MethodNotAllowedHandler struct{}

func (h MethodNotAllowedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusMethodNotAllowed, &core.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
	}, reqID)
}
