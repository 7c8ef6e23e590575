package wit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
	"github.com/vango-go/wit-lite/pkg/metrics"
)

func TestTextQueryAsync_ReturnsBeforeBackend(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, WithBackend(&fakeBackend{textFn: blockingText(release)}))
	got := newResults(1)

	h, err := c.TextQueryAsync(context.Background(), "turn on the lights", "tok", got)
	if err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}
	if h == "" {
		t.Fatal("empty handle")
	}
	got.none(t, 50*time.Millisecond)
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	close(release)
	res := got.next(t)
	if res.Handle != h || res.Kind != types.QueryText {
		t.Fatalf("result handle/kind = %s/%s, want %s/text", res.Handle, res.Kind, h)
	}
	if res.Err != nil || res.Response == nil {
		t.Fatalf("result = %+v", res)
	}
	m, err := res.Response.Message()
	if err != nil || m.Text != "turn on the lights" {
		t.Fatalf("Message() = %+v, %v", m, err)
	}
}

func TestTextQueryAsync_BackendErrorStillCallsBack(t *testing.T) {
	backend := &fakeBackend{textFn: func(context.Context, string, string) (*types.Response, error) {
		return nil, core.NewBackendStatusError("fake", 503, "unavailable", "try later")
	}}
	c := newTestClient(t, WithBackend(backend))

	var calls atomic.Int64
	done := make(chan error, 1)
	_, err := c.TextQueryAsync(context.Background(), "hi", "tok", func(resp *types.Response, err error) {
		calls.Add(1)
		if resp != nil {
			t.Errorf("response = %+v, want nil", resp)
		}
		done <- err
	})
	if err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}

	select {
	case err := <-done:
		var ce *core.Error
		if !errors.As(err, &ce) || ce.Type != ErrBackend || ce.Status != 503 {
			t.Fatalf("callback error = %v, want backend 503", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
	closeClient(t, c)
	if calls.Load() != 1 {
		t.Fatalf("callback ran %d times, want 1", calls.Load())
	}
}

func TestTextQueryAsync_EmptyResult(t *testing.T) {
	backend := &fakeBackend{textFn: func(context.Context, string, string) (*types.Response, error) {
		return &types.Response{Raw: "  "}, nil
	}}
	c := newTestClient(t, WithBackend(backend))
	got := newResults(1)

	if _, err := c.TextQueryAsync(context.Background(), "hi", "tok", got); err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}
	res := got.next(t)
	if !res.Empty() || res.Outcome() != "empty" {
		t.Fatalf("result = %+v, want empty", res)
	}
}

func TestTextQueryAsync_SynchronousValidation(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestClient(t, WithBackend(backend))
	ok := func(*types.Response, error) {}

	tests := []struct {
		name     string
		text     string
		token    string
		cb       any
		wantType core.ErrorType
	}{
		{"missing text", "", "tok", ok, ErrInvalidArgument},
		{"missing token", "hi", "", ok, ErrInvalidArgument},
		{"arguments checked before callback", "", "tok", nil, ErrInvalidArgument},
		{"nil callback", "hi", "tok", nil, ErrInvalidCallback},
		{"typed nil func", "hi", "tok", (func(*types.Response, error))(nil), ErrInvalidCallback},
		{"wrong shape", "hi", "tok", func(string) {}, ErrInvalidCallback},
		{"not callable", "hi", "tok", 42, ErrInvalidCallback},
		{"missing method", "hi", "tok", dispatch.Method(&listener{}, "Nope"), ErrInvalidCallback},
		{"bad method signature", "hi", "tok", dispatch.Method(&listener{}, "Wrong"), ErrInvalidCallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := c.TextQueryAsync(context.Background(), tt.text, tt.token, tt.cb)
			if !IsType(err, tt.wantType) {
				t.Fatalf("error = %v, want %s", err, tt.wantType)
			}
			if h != "" {
				t.Fatalf("handle = %q, want empty", h)
			}
		})
	}
	if backend.textCalls.Load() != 0 || c.Pending() != 0 {
		t.Fatalf("backend calls/pending = %d/%d, want 0/0", backend.textCalls.Load(), c.Pending())
	}
}

type listener struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
}

func (l *listener) OnResult(resp *types.Response, err error) {
	l.mu.Lock()
	l.got = append(l.got, resp.String())
	l.mu.Unlock()
	close(l.done)
}

func (l *listener) Wrong(string) {}

func TestTextQueryAsync_MethodReference(t *testing.T) {
	c := newTestClient(t, WithBackend(&fakeBackend{}))
	l := &listener{done: make(chan struct{})}

	if _, err := c.TextQueryAsync(context.Background(), "method", "tok", dispatch.Method(l, "OnResult")); err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatal("method callback never ran")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.got) != 1 || l.got[0] != `{"text":"method"}` {
		t.Fatalf("got = %q", l.got)
	}
}

func TestTextQueryAsync_ConcurrentExactlyOnce(t *testing.T) {
	const n = 100
	backend := &fakeBackend{textFn: func(_ context.Context, text, _ string) (*types.Response, error) {
		time.Sleep(time.Millisecond)
		return types.NewResponse(fmt.Sprintf(`{"text":%q}`, text)), nil
	}}
	m := metrics.NewMetrics("wit_test")
	c := newTestClient(t, WithBackend(backend), WithMetrics(m), WithMaxInFlight(8))

	var mu sync.Mutex
	counts := make(map[dispatch.Handle]int)
	payloads := make(map[dispatch.Handle]string)
	want := make(map[dispatch.Handle]string)
	all := make(chan struct{}, n)
	cb := func(res dispatch.Result) {
		mu.Lock()
		counts[res.Handle]++
		payloads[res.Handle] = res.Response.String()
		mu.Unlock()
		all <- struct{}{}
	}

	var wg sync.WaitGroup
	var hmu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := fmt.Sprintf("query %d", i)
			h, err := c.TextQueryAsync(context.Background(), text, "tok", cb)
			if err != nil {
				t.Errorf("TextQueryAsync() error = %v", err)
				return
			}
			hmu.Lock()
			want[h] = text
			hmu.Unlock()
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		select {
		case <-all:
		case <-time.After(10 * time.Second):
			t.Fatalf("only %d of %d callbacks ran", i, n)
		}
	}
	closeClient(t, c)

	if len(counts) != n || len(want) != n {
		t.Fatalf("distinct handles: callbacks %d, dispatched %d, want %d", len(counts), len(want), n)
	}
	for h, k := range counts {
		if k != 1 {
			t.Fatalf("handle %s invoked %d times", h, k)
		}
		text, ok := want[h]
		if !ok {
			t.Fatalf("callback for unknown handle %s", h)
		}
		if got, exp := payloads[h], fmt.Sprintf(`{"text":%q}`, text); got != exp {
			t.Fatalf("handle %s got %s, want %s", h, got, exp)
		}
	}
	if got := testutil.ToFloat64(m.CallbacksTotal.WithLabelValues("text", "ok")); got != n {
		t.Fatalf("callbacks metric = %v, want %d", got, n)
	}
	if got := testutil.ToFloat64(m.AsyncInFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
}

func TestTextQueryAsync_JournalUsesHandle(t *testing.T) {
	j := &recordingJournal{}
	c := newTestClient(t, WithBackend(&fakeBackend{}), WithJournal(j))
	got := newResults(1)

	h, err := c.TextQueryAsync(context.Background(), "hi", "tok", got)
	if err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}
	got.next(t)
	closeClient(t, c)

	entries := j.snapshot()
	if len(entries) != 1 || entries[0].Handle != h.String() {
		t.Fatalf("entries = %+v, want one with handle %s", entries, h)
	}
}

func TestTextQueryAsync_CallerContextCancelDoesNotAbort(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, WithBackend(&fakeBackend{textFn: blockingText(release)}))
	got := newResults(1)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.TextQueryAsync(ctx, "hi", "tok", got); err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}
	cancel()
	got.none(t, 30*time.Millisecond)
	close(release)

	if res := got.next(t); res.Err != nil {
		t.Fatalf("result error = %v, want success", res.Err)
	}
}

func TestClose_DrainsInFlightCallbacks(t *testing.T) {
	never := make(chan struct{})
	c := newTestClient(t, WithBackend(&fakeBackend{textFn: blockingText(never)}))

	const n = 5
	got := newResults(n)
	for i := 0; i < n; i++ {
		if _, err := c.TextQueryAsync(context.Background(), "hi", "tok", got); err != nil {
			t.Fatalf("TextQueryAsync() error = %v", err)
		}
	}
	closeClient(t, c)

	for i := 0; i < n; i++ {
		res := got.next(t)
		if !IsType(res.Err, ErrBackend) {
			t.Fatalf("result %d error = %v, want backend error", i, res.Err)
		}
	}
	got.none(t, 20*time.Millisecond)
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d after Close", c.Pending())
	}
}

func TestClose_FromCallbackWithDeadline(t *testing.T) {
	c := newTestClient(t, WithBackend(&fakeBackend{}))
	errc := make(chan error, 1)

	_, err := c.TextQueryAsync(context.Background(), "hi", "tok", func(dispatch.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		errc <- c.Close(ctx)
	})
	if err != nil {
		t.Fatalf("TextQueryAsync() error = %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Close from callback error = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close from callback hung")
	}
	// The invoker is free again, so shutdown completes.
	closeClient(t, c)
}
