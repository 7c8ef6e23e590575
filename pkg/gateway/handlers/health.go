package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway should receive traffic.
type ReadyHandler struct {
	Backend  string
	Draining func() bool
	// Checks are dependency probes, e.g. the journal database.
	Checks map[string]func(context.Context) error
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Backend  string   `json:"backend"`
		Draining bool     `json:"draining,omitempty"`
		Issues   []string `json:"issues,omitempty"`
	}

	var issues []string
	draining := h.Draining != nil && h.Draining()
	if draining {
		issues = append(issues, "draining")
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Checks[name](ctx)
		cancel()
		if err != nil {
			issues = append(issues, name+": "+err.Error())
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Backend:  h.Backend,
		Draining: draining,
		Issues:   issues,
	})
}
