// Package app provides application lifecycle management for the loader service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codefordc/housing-insights-loader/internal/config"
)

// LoaderApp encapsulates all components needed to run the loader service
// It provides lifecycle management and graceful shutdown capabilities
type LoaderApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the daily scheduler in the background and then the HTTP server.
// This method blocks until the HTTP server stops or encounters an error
func (app *LoaderApp) Start() error {
	if sched := app.components.Scheduler; sched != nil {
		go func() {
			if err := sched.Start(app.ctx); err != nil {
				slog.Error("Refresh scheduler failed", "error", err)
			}
		}()
	}

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout. It stops the
// scheduler, interrupting a scheduled run between tables, then shuts down the
// HTTP server and closes the database pool.
func (app *LoaderApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if sched := app.components.Scheduler; sched != nil {
		if err := sched.Stop(); err != nil {
			slog.Error("Failed to stop refresh scheduler", "error", err)
		}
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)
	app.components.Close()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *LoaderApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *LoaderApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *LoaderApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
