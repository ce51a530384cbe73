// Package api provides the HTTP server of the loader service.
package api

import (
	"time"

	"github.com/codefordc/housing-insights-loader/internal/refresh"
	"github.com/codefordc/housing-insights-loader/internal/status"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// TablesResponse lists the refreshable tables
type TablesResponse struct {
	Tables []string `json:"tables"`

	// Daily is the ordered list the scheduler refreshes
	Daily []string `json:"daily,omitempty"`
}

// StatusResponse is the orchestrator state and the persisted per-table status
type StatusResponse struct {
	Run status.RunState `json:"run"`

	// NextScheduledRun is omitted when the scheduler is disabled
	NextScheduledRun *time.Time `json:"nextScheduledRun,omitempty"`

	Tables map[string]*status.TableStatus `json:"tables"`
}

// LoadResultResponse is the JSON form of a single load attempt
type LoadResultResponse struct {
	Table             string    `json:"table"`
	Succeeded         bool      `json:"succeeded"`
	Detail            string    `json:"detail,omitempty"`
	StaleDependencies []string  `json:"staleDependencies,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	DurationSeconds   float64   `json:"durationSeconds"`
}

// RefreshResponse answers a manual refresh request
type RefreshResponse struct {
	Table   string              `json:"table"`
	Outcome string              `json:"outcome"`
	Message string              `json:"message"`
	Valid   []string            `json:"validTables,omitempty"`
	Result  *LoadResultResponse `json:"result,omitempty"`
}

// NewRefreshResponse converts a trigger outcome
func NewRefreshResponse(o refresh.Outcome) RefreshResponse {
	resp := RefreshResponse{
		Table:   o.Table,
		Outcome: string(o.Kind),
		Message: o.Message(),
		Valid:   o.Valid,
	}
	if o.Result != nil {
		resp.Result = &LoadResultResponse{
			Table:             o.Result.Table,
			Succeeded:         o.Result.Succeeded,
			Detail:            o.Result.Detail,
			StaleDependencies: o.Result.StaleDependencies,
			Timestamp:         o.Result.Timestamp,
			DurationSeconds:   o.Result.Duration.Seconds(),
		}
	}
	return resp
}

// ZoneFactsResponse mirrors the public zone facts endpoint
type ZoneFactsResponse struct {
	Status     string `json:"status"`
	Grouping   string `json:"grouping"`
	ColumnName string `json:"column_name"`
	Objects    []any  `json:"objects"`
}
