package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vango-go/wit-lite/pkg/config"
	"github.com/vango-go/wit-lite/pkg/gateway/handlers"
	"github.com/vango-go/wit-lite/pkg/gateway/mw"
	"github.com/vango-go/wit-lite/pkg/gateway/results"
	"github.com/vango-go/wit-lite/pkg/metrics"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	client  handlers.Querier
	metrics *metrics.Metrics
	checks  map[string]func(context.Context) error

	results  *results.Store
	draining atomic.Bool
	router   chi.Router
}

type Option func(*Server)

// WithMetrics records HTTP metrics and exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadyCheck adds a dependency probe to /readyz.
func WithReadyCheck(name string, check func(context.Context) error) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

func New(cfg config.Config, client handlers.Querier, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		checks:  make(map[string]func(context.Context) error),
		results: results.New(cfg.ResultTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(func(next http.Handler) http.Handler { return mw.AccessLog(s.logger, s.metrics, next) })
	r.Use(func(next http.Handler) http.Handler { return mw.Recover(s.logger, next) })
	r.Use(func(next http.Handler) http.Handler { return mw.CORS(s.cfg.CORSAllowedOrigins, next) })
	r.Use(func(next http.Handler) http.Handler { return mw.MaxBody(s.cfg.MaxBodyBytes, next) })

	r.NotFound(handlers.NotFoundHandler{}.ServeHTTP)
	r.MethodNotAllowed(handlers.MethodNotAllowedHandler{}.ServeHTTP)

	r.Method(http.MethodGet, "/healthz", handlers.HealthHandler{})
	r.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{
		Backend:  s.backendName(),
		Draining: s.Draining,
		Checks:   s.checks,
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/text", handlers.TextHandler{
			Client:       s.client,
			DefaultToken: s.cfg.AccessToken,
			Logger:       s.logger,
		})
		r.Method(http.MethodPost, "/text/async", handlers.TextAsyncHandler{
			Client:       s.client,
			Results:      s.results,
			DefaultToken: s.cfg.AccessToken,
			Logger:       s.logger,
		})
		r.Method(http.MethodGet, "/results/{handle}", handlers.ResultHandler{Results: s.results})
	})
	s.router = r
}

func (s *Server) backendName() string {
	if b, ok := s.client.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return ""
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Results returns the async result store.
func (s *Server) Results() *results.Store {
	return s.results
}

// SetDraining makes /readyz fail so load balancers stop sending traffic.
func (s *Server) SetDraining(v bool) {
	s.draining.Store(v)
}

func (s *Server) Draining() bool {
	return s.draining.Load()
}

// RunJanitor expires collected results until ctx ends.
func (s *Server) RunJanitor(ctx context.Context) {
	interval := s.cfg.ResultTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	s.results.Run(ctx, interval)
}
