// Package auth extracts the backend access token from gateway requests.
package auth

import (
	"net/http"
	"strings"
)

// ParseBearer returns the bearer token of r, if any.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// Token returns the request's bearer token, falling back to def.
func Token(r *http.Request, def string) (string, bool) {
	if token, ok := ParseBearer(r); ok {
		return token, true
	}
	return def, def != ""
}
