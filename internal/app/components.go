package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codefordc/housing-insights-loader/internal/refresh"
	"github.com/codefordc/housing-insights-loader/internal/status"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Orchestrator runs loaders under the process run lock
	Orchestrator *refresh.Orchestrator

	// Scheduler fires the daily refresh; nil when the schedule is disabled
	Scheduler *refresh.Scheduler

	// Trigger serves password-gated manual refreshes; nil when no secret is configured
	Trigger *refresh.Trigger

	// Notifier delivers reports
	Notifier refresh.Notifier

	// StatusPersistence stores per-table status
	StatusPersistence status.StatusPersistence

	// Pool is the database pool; nil when a resource was injected
	Pool *pgxpool.Pool
}

// Close releases the database pool
func (c *AppComponents) Close() {
	if c != nil && c.Pool != nil {
		c.Pool.Close()
	}
}
