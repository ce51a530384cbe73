package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codefordc/housing-insights-loader/internal/status"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	schedule       Schedule
	statuses       status.StatusPersistence
	database       Database
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithSchedule exposes the daily scheduler in the status and tables endpoints
func WithSchedule(s Schedule) ServerOption {
	return func(cfg *serverConfig) {
		cfg.schedule = s
	}
}

// WithStatusPersistence exposes persisted per-table status
func WithStatusPersistence(p status.StatusPersistence) ServerOption {
	return func(cfg *serverConfig) {
		cfg.statuses = p
	}
}

// WithDatabase enables the data endpoints and the readiness ping
func WithDatabase(d Database) ServerOption {
	return func(cfg *serverConfig) {
		cfg.database = d
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// NewServer creates and configures the HTTP router
func NewServer(trigger Trigger, runs RunStateSource, tables TableLister, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	rt := &routes{
		trigger:  trigger,
		runs:     runs,
		schedule: cfg.schedule,
		tables:   tables,
		statuses: cfg.statuses,
		database: cfg.database,
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/readiness", rt.readinessHandler)
	r.Get("/version", versionHandler)

	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tables", rt.listTables)
		r.Get("/status", rt.getStatus)
		r.Post("/tables/{table}/refresh", rt.refreshTable)
	})

	r.Get("/make_table/{table}/{password}", rt.makeTable)

	if cfg.database != nil {
		r.Get("/zone_facts/{column}/{grouping}", rt.zoneFacts)
		r.Get("/project", rt.projects)
	}

	return r
}

// LoggingMiddleware logs HTTP requests. Paths are not logged because the
// legacy trigger carries its secret in the path.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		slog.Debug("HTTP request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
