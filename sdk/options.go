package wit

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/wit-lite/pkg/config"
	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/audio"
	"github.com/vango-go/wit-lite/pkg/metrics"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDevice selects the capture device by case-insensitive substring of its
// name. Empty selects the system default.
func WithDevice(selector string) ClientOption {
	return func(c *Client) {
		c.device = selector
	}
}

// WithVerbosity sets the log verbosity used when no logger is supplied.
// 0 logs errors only; 4 and above logs debug output.
func WithVerbosity(level int) ClientOption {
	return func(c *Client) {
		c.verbosity = level
	}
}

// WithBackend sets the recognition backend. Defaults to Wit.ai.
func WithBackend(b core.Backend) ClientOption {
	return func(c *Client) {
		c.backend = b
	}
}

// WithAudioSource replaces the microphone, e.g. with a FileSource.
func WithAudioSource(src audio.Source) ClientOption {
	return func(c *Client) {
		c.source = src
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithMetrics records query and callback metrics into m.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithJournal records every completed query into j.
func WithJournal(j Journal) ClientOption {
	return func(c *Client) {
		c.journal = j
	}
}

// WithEndpointing tunes silence detection for VoiceQueryAuto.
func WithEndpointing(cfg audio.EndpointConfig) ClientOption {
	return func(c *Client) {
		c.endpoint = cfg
	}
}

// WithMaxInFlight bounds concurrently running async queries. Zero is
// unbounded.
func WithMaxInFlight(n int64) ClientOption {
	return func(c *Client) {
		c.maxInFlight = n
	}
}

// WithCallbackQueue sets how many completed results may wait for their
// callback before workers block.
func WithCallbackQueue(n int) ClientOption {
	return func(c *Client) {
		c.callbackQueue = n
	}
}

// WithCallbackInvokers sets the number of callback loops. With more than
// one, callbacks may run concurrently and out of completion order.
func WithCallbackInvokers(n int) ClientOption {
	return func(c *Client) {
		c.callbackInvokers = n
	}
}

// WithConfig applies the session, endpointing and dispatch settings of cfg.
// The backend is not built here; see backends.Factory.
func WithConfig(cfg config.Config) ClientOption {
	return func(c *Client) {
		c.device = cfg.AudioDevice
		c.verbosity = cfg.Verbosity
		c.sampleRate = cfg.SampleRate
		c.endpoint = audio.EndpointConfig{
			EnergyThreshold: cfg.EndpointThreshold,
			MinSpeech:       cfg.EndpointMinSpeech,
			Silence:         cfg.EndpointSilence,
			MaxDuration:     cfg.EndpointMaxDuration,
		}
		c.maxInFlight = cfg.MaxInFlight
		c.callbackQueue = cfg.CallbackQueue
		c.callbackInvokers = cfg.CallbackInvokers
	}
}

// LevelForVerbosity maps a verbosity to a slog level.
func LevelForVerbosity(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v < 4:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
