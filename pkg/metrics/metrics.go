package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Metrics holds all Prometheus metrics for a client and its gateway.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Async dispatch metrics
	AsyncInFlight  prometheus.Gauge
	CallbacksTotal *prometheus.CounterVec

	// Capture metrics
	CaptureBytesTotal   prometheus.Counter
	CaptureDroppedBytes prometheus.Counter
	EndpointsTotal      *prometheus.CounterVec

	// Journal metrics
	JournalErrorsTotal prometheus.Counter

	// Gateway metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wit"
	}

	registry := prometheus.NewRegistry()

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of completed queries",
		},
		[]string{"backend", "kind", "status"},
	)

	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query duration in seconds, including audio capture for voice queries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "kind"},
	)

	asyncInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "async_in_flight",
			Help:      "Number of async queries whose backend call has not finished",
		},
	)

	callbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Total number of async callbacks invoked",
		},
		[]string{"kind", "outcome"},
	)

	captureBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_audio_bytes_total",
			Help:      "Total PCM bytes streamed to backends",
		},
	)

	captureDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_dropped_bytes_total",
			Help:      "Total PCM bytes discarded because the reader fell behind",
		},
	)

	endpointsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoints_total",
			Help:      "Total auto-terminated voice captures by reason",
		},
		[]string{"reason"},
	)

	journalErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Total number of query journal writes that failed",
		},
	)

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of gateway HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Gateway HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		queriesTotal,
		queryDuration,
		asyncInFlight,
		callbacksTotal,
		captureBytes,
		captureDropped,
		endpointsTotal,
		journalErrors,
		httpRequestsTotal,
		httpRequestDuration,
	)

	return &Metrics{
		registry:            registry,
		QueriesTotal:        queriesTotal,
		QueryDuration:       queryDuration,
		AsyncInFlight:       asyncInFlight,
		CallbacksTotal:      callbacksTotal,
		CaptureBytesTotal:   captureBytes,
		CaptureDroppedBytes: captureDropped,
		EndpointsTotal:      endpointsTotal,
		JournalErrorsTotal:  journalErrors,
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordQuery records a completed query. status is "ok", "empty" or an
// error type.
func (m *Metrics) RecordQuery(backend string, kind types.QueryKind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(backend, kind.String(), status).Inc()
	m.QueryDuration.WithLabelValues(backend, kind.String()).Observe(duration.Seconds())
}

// DispatchStarted records an async query starting.
func (m *Metrics) DispatchStarted(types.QueryKind) {
	if m == nil {
		return
	}
	m.AsyncInFlight.Inc()
}

// DispatchFinished records an async query's backend call returning.
func (m *Metrics) DispatchFinished(types.QueryKind) {
	if m == nil {
		return
	}
	m.AsyncInFlight.Dec()
}

// CallbackInvoked records a callback run.
func (m *Metrics) CallbackInvoked(kind types.QueryKind, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(kind.String(), outcome).Inc()
}

// RecordCaptureBytes records PCM bytes handed to a backend.
func (m *Metrics) RecordCaptureBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CaptureBytesTotal.Add(float64(n))
}

// RecordCaptureDropped records PCM bytes discarded by the capture queue.
func (m *Metrics) RecordCaptureDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CaptureDroppedBytes.Add(float64(n))
}

// RecordEndpoint records why an auto voice capture ended.
func (m *Metrics) RecordEndpoint(reason string) {
	if m == nil {
		return
	}
	m.EndpointsTotal.WithLabelValues(reason).Inc()
}

// RecordJournalError records a failed journal write.
func (m *Metrics) RecordJournalError() {
	if m == nil {
		return
	}
	m.JournalErrorsTotal.Inc()
}

// RecordHTTPRequest records a gateway request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
