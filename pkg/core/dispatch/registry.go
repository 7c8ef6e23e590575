package dispatch

import (
	"fmt"
	"sync"
)

// Registry maps in-flight handles to their callbacks.
type Registry struct {
	mu      sync.Mutex
	pending map[Handle]Callback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[Handle]Callback)}
}

// Register stores cb under h. A handle can only be registered once.
func (r *Registry) Register(h Handle, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[h]; exists {
		return fmt.Errorf("dispatch: handle %s already registered", h)
	}
	r.pending[h] = cb
	return nil
}

// Take removes and returns the callback for h.
func (r *Registry) Take(h Handle) (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.pending[h]
	if ok {
		delete(r.pending, h)
	}
	return cb, ok
}

// Pending returns the number of callbacks not yet taken.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
