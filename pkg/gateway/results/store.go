// Package results keeps async query results until callers collect them.
package results

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Entry is the state of one async query.
type Entry struct {
	Handle      dispatch.Handle
	Kind        types.QueryKind
	Status      Status
	Response    *types.Response
	Err         error
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Store is an in-memory result table. Completed entries expire ttl after
// completion; pending entries never expire.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[dispatch.Handle]*Entry
}

func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[dispatch.Handle]*Entry),
	}
}

// Track records h as pending. A result that already arrived is kept.
func (s *Store) Track(h dispatch.Handle, kind types.QueryKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[h]; ok {
		return
	}
	s.entries[h] = &Entry{Handle: h, Kind: kind, Status: StatusPending, CreatedAt: s.now()}
}

// Invoke implements dispatch.Callback: it stores the result.
func (s *Store) Invoke(res dispatch.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.entries[res.Handle]
	if !ok {
		// The callback can beat Track.
		e = &Entry{Handle: res.Handle, Kind: res.Kind, CreatedAt: now}
		s.entries[res.Handle] = e
	}
	e.Status = StatusDone
	e.Response = res.Response
	e.Err = res.Err
	e.CompletedAt = now
}

// Get returns a copy of the entry for h.
func (s *Store) Get(h dispatch.Handle) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok || s.expired(e) {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of entries that have not expired.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for h, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, h)
			n++
		}
	}
	return n
}

func (s *Store) expired(e *Entry) bool {
	return e.Status == StatusDone && s.ttl > 0 && s.now().Sub(e.CompletedAt) > s.ttl
}

// Run sweeps every interval until ctx ends.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// ErrorOf returns the canonical form of e.Err, if any.
func (e Entry) ErrorOf() *core.Error {
	if e.Err == nil {
		return nil
	}
	var ce *core.Error
	if errors.As(e.Err, &ce) {
		return ce
	}
	return core.NewBackendError("gateway", e.Err)
}
