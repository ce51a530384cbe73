package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codefordc/housing-insights-loader/internal/app"
	"github.com/codefordc/housing-insights-loader/internal/config"
	"github.com/codefordc/housing-insights-loader/internal/telemetry"
)

const (
	// Leaves an interrupted loader time to roll back
	defaultGracefulTimeout = 60 * time.Second
	telemetryFlushTimeout  = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily scheduler and the HTTP API",
		Long: `Start the loader service. It refreshes the daily tables at the configured
time, serves manual refreshes at /make_table/{table}/{password} and
/api/v1/tables/{table}/refresh, and exposes status and data endpoints.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		slog.Error("Error binding address flag", "error", err)
	}

	return cmd
}

// setupTelemetry initializes tracing and metrics. The returned shutdown is always non-nil.
func setupTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, func(), error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}
	return tel, shutdown, nil
}

func telemetryOptions(tel *telemetry.Telemetry) []app.LoaderAppOptions {
	return []app.LoaderAppOptions{
		app.WithMeterProvider(tel.MeterProvider()),
		app.WithTracerProvider(tel.TracerProvider()),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	address := viper.GetString("address")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	opts := append([]app.LoaderAppOptions{
		app.WithConfig(cfg),
		app.WithAddress(address),
	}, telemetryOptions(tel)...)

	loaderApp, err := app.NewLoaderApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- loaderApp.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			_ = loaderApp.Stop(defaultGracefulTimeout)
			return err
		}
	}

	return loaderApp.Stop(defaultGracefulTimeout)
}
