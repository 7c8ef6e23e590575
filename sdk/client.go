// Package wit is an embeddable client for an intent-recognition backend.
//
// A Client owns one session: the backend, the capture device and the async
// dispatcher. Queries run synchronously (TextQuery, VoiceQueryStop,
// VoiceQueryAuto) or asynchronously with a callback (the *Async variants).
// Every async callback runs exactly once, on the client's callback loop,
// even when the query fails or the client is closed underneath it.
package wit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/audio"
	"github.com/vango-go/wit-lite/pkg/core/backends/witai"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
	"github.com/vango-go/wit-lite/pkg/journal"
	"github.com/vango-go/wit-lite/pkg/metrics"
)

// DefaultVerbosity is the verbosity used when none is given.
const DefaultVerbosity = 4

// Journal records completed queries. *journal.Store implements it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Client is a wit session. Create it with Init and release it with Close.
// A Client is safe for concurrent use.
type Client struct {
	device           string
	verbosity        int
	sampleRate       int
	backend          core.Backend
	source           audio.Source
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *metrics.Metrics
	journal          Journal
	endpoint         audio.EndpointConfig
	maxInFlight      int64
	callbackQueue    int
	callbackInvokers int

	engine     *core.Engine
	dispatcher *dispatch.Dispatcher

	// ctx is cancelled by Close and parents every backend call.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	ops    sync.WaitGroup // running operations
	bg     sync.WaitGroup // journal writes

	voiceMu sync.Mutex
	voice   *voiceQuery

	closeOnce sync.Once
	closeErr  error
	closeDone chan struct{}
}

// Init creates a session. It does not touch the audio device; capture starts
// with the first voice query.
func Init(opts ...ClientOption) (*Client, error) {
	c := &Client{
		verbosity: DefaultVerbosity,
		endpoint:  audio.DefaultEndpointConfig(),
		closeDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.verbosity < 0 {
		return nil, core.NewInvalidArgumentError("verbosity must be >= 0", "verbosity")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: LevelForVerbosity(c.verbosity),
		}))
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("github.com/vango-go/wit-lite")
	}
	if c.backend == nil {
		c.backend = witai.New()
	}
	if c.source == nil {
		format := types.DefaultAudioFormat()
		if c.sampleRate > 0 {
			format.SampleRate = c.sampleRate
		}
		c.source = audio.NewMicrophone(audio.MicrophoneConfig{
			Device: c.device,
			Format: format,
			Logger: c.logger,
			OnDrop: c.metrics.RecordCaptureDropped,
		})
	}
	if err := c.source.Format().Validate(); err != nil {
		return nil, core.NewInvalidArgumentError("audio format: "+err.Error(), "source")
	}

	c.engine = core.NewEngine(c.backend)
	dcfg := dispatch.Config{
		QueueSize:   c.callbackQueue,
		Invokers:    c.callbackInvokers,
		MaxInFlight: c.maxInFlight,
		Logger:      c.logger,
	}
	if c.metrics != nil {
		dcfg.Observer = c.metrics
	}
	c.dispatcher = dispatch.New(dcfg)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.logger.Debug("wit client initialized",
		"backend", c.engine.Name(),
		"device", c.device,
		"verbosity", c.verbosity,
	)
	return c, nil
}

// Device returns the capture device selector.
func (c *Client) Device() string {
	if c == nil {
		return ""
	}
	return c.device
}

// Verbosity returns the configured verbosity.
func (c *Client) Verbosity() int {
	if c == nil {
		return 0
	}
	return c.verbosity
}

// Backend returns the name of the recognition backend.
func (c *Client) Backend() string {
	if c == nil || c.engine == nil {
		return ""
	}
	return c.engine.Name()
}

// Pending returns the number of async queries whose callback has not run.
func (c *Client) Pending() int {
	if c == nil || c.dispatcher == nil {
		return 0
	}
	return c.dispatcher.Pending()
}

// VoiceActive reports whether a voice query holds the capture device.
func (c *Client) VoiceActive() bool {
	if c == nil {
		return false
	}
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	return c.voice != nil
}

// acquire registers a running operation. Every exported query calls it first;
// it fails with an uninitialized error on a nil or closed client.
func (c *Client) acquire() (release func(), err error) {
	if c == nil || c.dispatcher == nil {
		return nil, core.NewUninitializedError()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, core.NewUninitializedError()
	}
	c.ops.Add(1)
	return c.ops.Done, nil
}

// opContext derives a context that ends when either parent or the client
// ends.
func (c *Client) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Close ends the session. In-flight backend calls are cancelled, running
// operations are awaited and every pending callback runs (with an error
// result if its query was cancelled). Close is idempotent; later calls
// return the first call's result once it completes.
//
// Close must not be called from inside a callback without a ctx deadline:
// it waits for the callback loop that is running it.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.dispatcher == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.abortVoice()

		go func() {
			defer close(c.closeDone)
			c.ops.Wait()
			c.releaseVoice()
			// The dispatcher is only reachable through acquire, so no new
			// work can arrive here.
			c.closeErr = c.dispatcher.Close(context.Background())
			c.bg.Wait()
			c.logger.Debug("wit client closed")
		}()
	})

	select {
	case <-c.closeDone:
		return c.closeErr
	case <-ctx.Done():
		return errors.Join(errors.New("wit: close did not finish"), ctx.Err())
	}
}
