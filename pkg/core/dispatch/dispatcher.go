package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Func is the blocking query a worker runs. Its context carries the
// dispatch handle; see HandleFromContext.
type Func func(ctx context.Context) (*types.Response, error)

type handleKey struct{}

// HandleFromContext returns the handle of the dispatch running with ctx.
func HandleFromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(Handle)
	return h, ok
}

// Observer receives dispatch lifecycle events. pkg/metrics implements it.
type Observer interface {
	DispatchStarted(kind types.QueryKind)
	DispatchFinished(kind types.QueryKind)
	CallbackInvoked(kind types.QueryKind, outcome string)
}

type nopObserver struct{}

func (nopObserver) DispatchStarted(types.QueryKind)         {}
func (nopObserver) DispatchFinished(types.QueryKind)        {}
func (nopObserver) CallbackInvoked(types.QueryKind, string) {}

// Config configures a Dispatcher.
type Config struct {
	// QueueSize bounds completed results waiting for their callback.
	// Workers block when it is full. Default 64.
	QueueSize int

	// Invokers is the number of callback loops. With one (the default)
	// callbacks run in completion order, one at a time.
	Invokers int

	// MaxInFlight bounds concurrently running queries. Zero is unbounded.
	// Dispatch never blocks on it; queued workers wait instead.
	MaxInFlight int64

	Logger   *slog.Logger
	Observer Observer

	// OnOrphan handles a completion whose handle has no callback. The default
	// logs and panics: a lost result is a programming error.
	OnOrphan func(Result)
}

// Dispatcher runs async queries and delivers their results.
type Dispatcher struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer
	registry *Registry
	sem      *semaphore.Weighted
	queue    chan Result

	mu       sync.RWMutex
	closed   bool
	workers  sync.WaitGroup
	invokers sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// New starts a Dispatcher and its invoker loops.
func New(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Invokers <= 0 {
		cfg.Invokers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		registry: NewRegistry(),
		queue:    make(chan Result, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	if cfg.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	d.invokers.Add(cfg.Invokers)
	for i := 0; i < cfg.Invokers; i++ {
		go d.invokeLoop()
	}
	return d
}

// Dispatch registers cb, starts fn on a new goroutine and returns the handle
// immediately. Validation failures are returned synchronously and nothing is
// started. fn runs with ctx; the Dispatcher never cancels it.
func (d *Dispatcher) Dispatch(ctx context.Context, kind types.QueryKind, cb Callback, fn Func) (Handle, error) {
	if cb == nil || isNilValue(cb) {
		return "", core.NewInvalidCallbackError("callback is required")
	}
	if fn == nil {
		return "", core.NewInvalidArgumentError("query function is required", "fn")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", core.NewUninitializedError()
	}

	h := NewHandle()
	if err := d.registry.Register(h, cb); err != nil {
		return "", err
	}
	d.workers.Add(1)
	d.observer.DispatchStarted(kind)
	d.logger.Debug("query dispatched", "handle", h, "kind", kind)

	go d.run(ctx, h, kind, fn)
	return h, nil
}

func (d *Dispatcher) run(ctx context.Context, h Handle, kind types.QueryKind, fn Func) {
	defer d.workers.Done()

	ctx = context.WithValue(ctx, handleKey{}, h)
	start := time.Now()
	res := Result{Handle: h, Kind: kind}

	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			res.Err = core.NewBackendError("dispatch", fmt.Errorf("waiting for a free slot: %w", err))
			res.Latency = time.Since(start)
			d.observer.DispatchFinished(kind)
			d.queue <- res
			return
		}
	}

	res.Response, res.Err = d.call(ctx, kind, fn)
	res.Latency = time.Since(start)
	if d.sem != nil {
		d.sem.Release(1)
	}
	d.observer.DispatchFinished(kind)

	d.queue <- res
}

func (d *Dispatcher) call(ctx context.Context, kind types.QueryKind, fn Func) (resp *types.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("query panicked", "kind", kind, "panic", r)
			resp, err = nil, core.NewBackendError(string(kind), fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx)
}

func (d *Dispatcher) invokeLoop() {
	defer d.invokers.Done()
	for res := range d.queue {
		d.deliver(res)
	}
}

func (d *Dispatcher) deliver(res Result) {
	cb, ok := d.registry.Take(res.Handle)
	if !ok {
		d.orphan(res)
		return
	}

	outcome := res.Outcome()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panicked", "handle", res.Handle, "kind", res.Kind, "panic", r)
			d.observer.CallbackInvoked(res.Kind, "panic")
		}
	}()

	cb.Invoke(res)
	d.observer.CallbackInvoked(res.Kind, outcome)
	d.logger.Debug("callback invoked", "handle", res.Handle, "kind", res.Kind, "outcome", outcome, "latency", res.Latency)
}

func (d *Dispatcher) orphan(res Result) {
	d.logger.Error("no callback registered for completed query",
		"handle", res.Handle, "kind", res.Kind, "outcome", res.Outcome())
	if d.cfg.OnOrphan != nil {
		d.cfg.OnOrphan(res)
		return
	}
	panic(fmt.Sprintf("dispatch: result for handle %s has no registered callback", res.Handle))
}

// Pending returns the number of dispatched queries whose callback has not run.
func (d *Dispatcher) Pending() int {
	return d.registry.Pending()
}

// Close stops accepting work, waits for running queries to finish and for
// every pending callback to run. It returns ctx.Err() if ctx ends first; the
// shutdown keeps going in the background. Close is idempotent.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		go func() {
			d.workers.Wait()
			close(d.queue)
			d.invokers.Wait()
			close(d.done)
		}()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Close has fully drained the dispatcher.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}
