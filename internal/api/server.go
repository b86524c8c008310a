// Package api serves the orbit service over HTTP with a chi router.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/internal/service"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/metrics"
	"github.com/ajitpratap0/orbit/pkg/observability"
)

// ServerOption configures the router
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	metricsPath string
	serviceName string
}

// WithMiddlewares adds middleware in front of every route
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetrics mounts the Prometheus handler at path
func WithMetrics(path string) ServerOption {
	return func(cfg *serverConfig) { cfg.metricsPath = path }
}

// WithServiceName names the server spans
func WithServiceName(name string) ServerOption {
	return func(cfg *serverConfig) { cfg.serviceName = name }
}

// NewServer builds the HTTP handler of the service.
func NewServer(svc *service.Service, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{serviceName: "orbit"}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handlers{svc: svc, logger: logger.Get().With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware(cfg.serviceName))
	r.Use(LoggingMiddleware)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", h.health)
	if cfg.metricsPath != "" {
		r.Handle(cfg.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/connectors", func(r chi.Router) {
			r.Post("/", h.registerConnector)
			r.Get("/", h.listConnectors)
			r.Get("/{id}", h.getConnector)
			r.Post("/{id}/test", h.testConnection)
			r.Post("/{id}/raw", h.executeRaw)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.startSync)
			r.Get("/", h.listJobs)
			r.Get("/{id}", h.getJob)
			r.Post("/{id}/cancel", h.cancelSync)
		})
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", h.scheduleSync)
			r.Get("/", h.listSchedules)
			r.Get("/{id}", h.getSchedule)
			r.Post("/{id}/enable", h.setScheduleEnabled(true))
			r.Post("/{id}/disable", h.setScheduleEnabled(false))
		})
		r.Get("/stats/summary", h.summary)
		r.Post("/archive", h.archive)
	})
	return r
}

// LoggingMiddleware logs every request and records its metrics. The chi
// request id is carried into the request context for downstream loggers.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logger.ContextWithRequest(ctx, id)
		}
		r = r.WithContext(ctx)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPLatency.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		logger.WithContext(ctx).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", elapsed))
	})
}
