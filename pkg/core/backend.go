package core

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Backend is the interface every intent-recognition backend implements.
//
// A nil *types.Response with a nil error is a valid "no result" outcome.
type Backend interface {
	// Name returns the backend identifier (e.g., "witai", "relay").
	Name() string

	// TextQuery interprets text, authorized by token.
	TextQuery(ctx context.Context, text, token string) (*types.Response, error)

	// VoiceQuery streams audio to the backend until audio returns io.EOF and
	// then waits for the recognition result.
	VoiceQuery(ctx context.Context, audio io.Reader, format types.AudioFormat, token string) (*types.Response, error)
}

// BackendRegistry manages available backends by name.
type BackendRegistry interface {
	Register(backend Backend)
	Get(name string) (Backend, bool)
	List() []string
}

type defaultRegistry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewBackendRegistry creates an empty registry.
func NewBackendRegistry() BackendRegistry {
	return &defaultRegistry{
		backends: make(map[string]Backend),
	}
}

func (r *defaultRegistry) Register(backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[backend.Name()] = backend
}

func (r *defaultRegistry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

func (r *defaultRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
