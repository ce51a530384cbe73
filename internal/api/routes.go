package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codefordc/housing-insights-loader/internal/api/common"
	"github.com/codefordc/housing-insights-loader/internal/db"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
	"github.com/codefordc/housing-insights-loader/internal/status"
	"github.com/codefordc/housing-insights-loader/internal/versions"
)

// Trigger runs password-gated single-table refreshes
type Trigger interface {
	Trigger(ctx context.Context, table, secret string) (refresh.Outcome, error)
}

// RunStateSource reports what the orchestrator is doing
type RunStateSource interface {
	State() status.RunState
}

// Schedule reports the next daily fire
type Schedule interface {
	NextFire() time.Time
	Tables() []string
}

// TableLister lists the refreshable tables
type TableLister interface {
	Tables() []string
}

// Database is the read side the data endpoints need
type Database interface {
	db.Querier
	Ping(ctx context.Context) error
}

type routes struct {
	trigger  Trigger
	runs     RunStateSource
	schedule Schedule
	tables   TableLister
	statuses status.StatusPersistence
	database Database
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func (rt *routes) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if rt.database != nil {
		if err := rt.database.Ping(r.Context()); err != nil {
			slog.Warn("Readiness check failed", "error", err)
			common.WriteErrorResponse(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	common.WriteJSONResponse(w, HealthResponse{Status: "ready"}, http.StatusOK)
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}

// listTables handles GET /api/v1/tables
func (rt *routes) listTables(w http.ResponseWriter, _ *http.Request) {
	resp := TablesResponse{Tables: rt.tables.Tables()}
	if rt.schedule != nil {
		resp.Daily = rt.schedule.Tables()
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// getStatus handles GET /api/v1/status
func (rt *routes) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Run:    rt.runs.State(),
		Tables: map[string]*status.TableStatus{},
	}
	if rt.schedule != nil {
		if next := rt.schedule.NextFire(); !next.IsZero() {
			resp.NextScheduledRun = &next
		}
	}

	if rt.statuses != nil {
		tables, err := rt.statuses.LoadAllStatus(r.Context())
		if err != nil {
			slog.Error("Failed to load table status", "error", err)
			common.WriteErrorResponse(w, "failed to load table status", http.StatusInternalServerError)
			return
		}
		resp.Tables = tables
	}

	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// refreshTable handles POST /api/v1/tables/{table}/refresh with a Bearer secret
func (rt *routes) refreshTable(w http.ResponseWriter, r *http.Request) {
	table, err := common.URLParam(r, "table")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := rt.trigger.Trigger(r.Context(), table, common.BearerToken(r))
	common.WriteJSONResponse(w, NewRefreshResponse(outcome), refreshStatusCode(outcome, err))
}

func refreshStatusCode(outcome refresh.Outcome, err error) int {
	switch {
	case errors.Is(err, refresh.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, refresh.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, refresh.ErrRunInProgress):
		return http.StatusConflict
	case err != nil:
		return http.StatusServiceUnavailable
	case outcome.Kind == refresh.OutcomeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// makeTable handles GET /make_table/{table}/{password}, the legacy HTML
// trigger operators bookmark
func (rt *routes) makeTable(w http.ResponseWriter, r *http.Request) {
	table, err := common.URLParam(r, "table")
	if err != nil {
		common.WriteHTMLMessage(w, "Invalid Table Name: Please Try Again", nil, http.StatusBadRequest)
		return
	}
	password, err := common.URLParam(r, "password")
	if err != nil {
		password = ""
	}

	outcome, err := rt.trigger.Trigger(r.Context(), table, password)
	code := refreshStatusCode(outcome, err)

	switch outcome.Kind {
	case refresh.OutcomeUnknownTable:
		common.WriteHTMLMessage(w, "Invalid Table Name: Please Try Again", outcome.Valid, code)
	case refresh.OutcomeFailed:
		common.WriteHTMLMessage(w, "Unable to load "+table+" table.", []string{
			"The source data may be unavailable.",
			"Housing insights will load the backup data.",
		}, code)
	default:
		common.WriteHTMLMessage(w, outcome.Message(), nil, code)
	}
}

// zoneFacts handles GET /zone_facts/{column}/{grouping}. Invalid input yields
// status "Not found" with an empty object list rather than an HTTP error.
func (rt *routes) zoneFacts(w http.ResponseWriter, r *http.Request) {
	column := chi.URLParam(r, "column")
	grouping := chi.URLParam(r, "grouping")

	resp := ZoneFactsResponse{
		Status:     "success",
		Grouping:   grouping,
		ColumnName: column,
		Objects:    []any{},
	}

	facts, err := db.ZoneFacts(r.Context(), rt.database, column, grouping)
	if err != nil {
		if !errors.Is(err, db.ErrInvalidGrouping) && !errors.Is(err, db.ErrUnknownColumn) {
			slog.Error("Failed to read zone facts", "column", column, "grouping", grouping, "error", err)
		}
		resp.Status = "Not found"
		common.WriteJSONResponse(w, resp, http.StatusOK)
		return
	}

	for _, f := range facts {
		resp.Objects = append(resp.Objects, map[string]any{"zone": f.Zone, column: f.Value})
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// projects handles GET /project
func (rt *routes) projects(w http.ResponseWriter, r *http.Request) {
	records, err := db.Records(r.Context(), rt.database, refresh.TableProject)
	if err != nil {
		slog.Error("Failed to read projects", "error", err)
		common.WriteErrorResponse(w, "failed to read projects", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, map[string]any{"objects": records}, http.StatusOK)
}
