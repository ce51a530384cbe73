package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/codefordc/housing-insights-loader/internal/api"
	"github.com/codefordc/housing-insights-loader/internal/backup"
	"github.com/codefordc/housing-insights-loader/internal/config"
	"github.com/codefordc/housing-insights-loader/internal/db"
	"github.com/codefordc/housing-insights-loader/internal/httpclient"
	"github.com/codefordc/housing-insights-loader/internal/loader"
	"github.com/codefordc/housing-insights-loader/internal/notify"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
	"github.com/codefordc/housing-insights-loader/internal/status"
	"github.com/codefordc/housing-insights-loader/internal/telemetry"
)

const (
	defaultHTTPAddress = ":8080"
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second

	// A manual refresh runs a loader inline, so requests may take minutes
	defaultRequestTimeout = 15 * time.Minute
	defaultWriteTimeout   = defaultRequestTimeout + 30*time.Second

	tracerName = "github.com/codefordc/housing-insights-loader"
)

// LoaderAppOptions is a function that configures the loader app builder
type LoaderAppOptions func(*loaderAppConfig) error

// loaderAppConfig supports dependency injection for testing while providing
// production defaults
type loaderAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	resource      refresh.Resource
	registry      *refresh.Registry
	notifier      refresh.Notifier
	backupStore   backup.Store
	httpClient    httpclient.Client
	triggerSecret string

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	statusDir string

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...LoaderAppOptions) (*loaderAppConfig, error) {
	cfg := &loaderAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.statusDir == "" {
		cfg.statusDir = cfg.config.GetStatusDir()
	}

	return cfg, nil
}

// NewLoaderApp builds the long-running service: scheduler, manual trigger and HTTP API
func NewLoaderApp(ctx context.Context, opts ...LoaderAppOptions) (*LoaderApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := buildServeComponents(cfg, components); err != nil {
		components.Close()
		return nil, err
	}

	httpServer, err := buildHTTPServer(cfg, components)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &LoaderApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// NewRefreshComponents builds what a one-shot refresh needs: the orchestrator
// and the notifier. The caller must Close the result.
func NewRefreshComponents(ctx context.Context, opts ...LoaderAppOptions) (*AppComponents, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildComponents(ctx, cfg)
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, ok := strings.Cut(addr, ":")
		if !ok || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStatusDirectory overrides the per-table status directory
func WithStatusDirectory(dir string) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.statusDir = dir
		return nil
	}
}

// WithResource injects the database handle loaders write through (for testing)
func WithResource(res refresh.Resource) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.resource = res
		return nil
	}
}

// WithRegistry injects the loader registry (for testing)
func WithRegistry(r *refresh.Registry) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.registry = r
		return nil
	}
}

// WithNotifier injects the report notifier (for testing)
func WithNotifier(n refresh.Notifier) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.notifier = n
		return nil
	}
}

// WithBackupStore injects the snapshot store
func WithBackupStore(s backup.Store) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.backupStore = s
		return nil
	}
}

// WithHTTPClient injects the client used for upstream fetches
func WithHTTPClient(c httpclient.Client) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithTriggerSecret sets the manual trigger secret instead of reading it from
// the trigger configuration
func WithTriggerSecret(secret string) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		if secret == "" {
			return fmt.Errorf("trigger secret cannot be empty")
		}
		cfg.triggerSecret = secret
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for refresh and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves a Prometheus scrape handler at /metrics
func WithMetricsHandler(h http.Handler) LoaderAppOptions {
	return func(cfg *loaderAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildComponents builds the orchestrator and notifier
func buildComponents(ctx context.Context, b *loaderAppConfig) (*AppComponents, error) {
	slog.Info("Initializing refresh components")

	components := &AppComponents{
		StatusPersistence: status.NewFileStatusPersistence(b.statusDir),
	}

	var tracer trace.Tracer
	if b.tracerProvider != nil {
		tracer = b.tracerProvider.Tracer(tracerName)
	}

	res := b.resource
	if res == nil {
		if b.config.Database == nil {
			return nil, fmt.Errorf("database configuration is required")
		}
		pool, err := db.NewPool(ctx, b.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.Pool = pool
		res = pool
	}

	registry, err := buildRegistry(ctx, b, tracer)
	if err != nil {
		components.Close()
		return nil, err
	}

	metrics, err := telemetry.NewRefreshMetrics(b.meterProvider)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to create refresh metrics: %w", err)
	}

	orchOpts := []refresh.Option{
		refresh.WithStatusPersistence(components.StatusPersistence),
		refresh.WithMetrics(metrics),
		refresh.WithTracer(tracer),
	}
	if b.config.LockFile != "" {
		orchOpts = append(orchOpts, refresh.WithLockFile(b.config.LockFile))
	}

	components.Orchestrator, err = refresh.NewOrchestrator(registry, res, orchOpts...)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	components.Notifier = b.notifier
	if components.Notifier == nil {
		components.Notifier, err = notify.New(b.config.Mail)
		if err != nil {
			components.Close()
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
	}

	slog.Info("Refresh components initialized", "tables", registry.Tables())
	return components, nil
}

func buildRegistry(ctx context.Context, b *loaderAppConfig, tracer trace.Tracer) (*refresh.Registry, error) {
	if b.registry != nil {
		return b.registry, nil
	}

	store := b.backupStore
	if store == nil {
		var err error
		store, err = backup.NewStore(ctx, b.config.Backup)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup store: %w", err)
		}
	}

	client := b.httpClient
	if client == nil {
		client = httpclient.NewDefaultClient(httpclient.DefaultTimeout)
	}

	registry, err := loader.NewRegistry(b.config.Tables, client, store, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to build loader registry: %w", err)
	}
	return registry, nil
}

// buildServeComponents adds the scheduler and the manual trigger
func buildServeComponents(b *loaderAppConfig, c *AppComponents) error {
	metrics, err := telemetry.NewRefreshMetrics(b.meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create refresh metrics: %w", err)
	}

	sched := b.config.Schedule
	if sched.Disabled {
		slog.Info("Daily refresh disabled")
	} else {
		loc, err := sched.GetLocation()
		if err != nil {
			return fmt.Errorf("invalid schedule timezone: %w", err)
		}

		schedOpts := []refresh.SchedulerOption{
			refresh.WithFireTime(sched.Hour, sched.Minute),
			refresh.WithLocation(loc),
			refresh.WithSchedulerMetrics(metrics),
		}
		if len(sched.Tables) > 0 {
			schedOpts = append(schedOpts, refresh.WithTables(sched.Tables))
		}

		c.Scheduler, err = refresh.NewScheduler(c.Orchestrator, c.Notifier, schedOpts...)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
	}

	secret := b.triggerSecret
	if secret == "" {
		secret, err = b.config.Trigger.GetPassword()
		if err != nil {
			slog.Warn("Manual refresh disabled", "error", err)
			return nil
		}
	}

	c.Trigger, err = refresh.NewTrigger(c.Orchestrator, c.Notifier, secret, metrics)
	if err != nil {
		return fmt.Errorf("failed to create manual trigger: %w", err)
	}
	return nil
}

// disabledTrigger answers every manual refresh as unauthorized without
// notifying, used when no secret is configured
type disabledTrigger struct{}

func (disabledTrigger) Trigger(_ context.Context, table, _ string) (refresh.Outcome, error) {
	return refresh.Outcome{Kind: refresh.OutcomeUnauthorized, Table: table}, refresh.ErrUnauthorized
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *loaderAppConfig, c *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing wrap everything so rejected requests are counted too
	if b.meterProvider != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{httpMetrics.Middleware}, b.middlewares...)
	}
	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, b.middlewares...)
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
		api.WithStatusPersistence(c.StatusPersistence),
		api.WithMetricsHandler(b.metricsHandler),
	}
	if c.Scheduler != nil {
		serverOpts = append(serverOpts, api.WithSchedule(c.Scheduler))
	}
	if c.Pool != nil {
		serverOpts = append(serverOpts, api.WithDatabase(c.Pool))
	}

	var trigger api.Trigger = disabledTrigger{}
	if c.Trigger != nil {
		trigger = c.Trigger
	}

	router := api.NewServer(trigger, c.Orchestrator, c.Orchestrator.Registry(), serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
