package db

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefordc/housing-insights-loader/database"
	"github.com/codefordc/housing-insights-loader/internal/config"
)

type panicQuerier struct{}

func (panicQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("query must not run for rejected input")
}

func TestZoneFacts_RejectsInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		column   string
		grouping string
		wantErr  error
	}{
		{name: "unknown grouping", column: "crime_count", grouping: "state", wantErr: ErrInvalidGrouping},
		{name: "unknown column", column: "poverty_rate", grouping: "ward", wantErr: ErrUnknownColumn},
		{name: "injection attempt", column: "zone; DROP TABLE zone_facts", grouping: "ward", wantErr: ErrUnknownColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ZoneFacts(context.Background(), panicQuerier{}, tt.column, tt.grouping)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewPool_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *config.DatabaseConfig
		wantErr string
	}{
		{name: "nil config", wantErr: "database configuration is required"},
		{name: "missing host", cfg: &config.DatabaseConfig{Port: 5432}, wantErr: "database host is required"},
		{name: "missing port", cfg: &config.DatabaseConfig{Host: "db"}, wantErr: "database port is required"},
		{name: "missing user", cfg: &config.DatabaseConfig{Host: "db", Port: 5432}, wantErr: "database user is required"},
		{
			name:    "missing database",
			cfg:     &config.DatabaseConfig{Host: "db", Port: 5432, User: "loader"},
			wantErr: "database name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewPool(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQueriesAgainstPostgres(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	_, err := pool.Exec(ctx, `
INSERT INTO zone_facts (zone_type, zone, crime_count, permit_count) VALUES
  ('ward', '2', 5, 1),
  ('ward', '1', 3, 7),
  ('census_tract', '007200', 9, 0)`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
INSERT INTO dataset_record (table_name, record) VALUES
  ('project', '{"name":"Arthur Capper"}'),
  ('project', '{"name":"Sursum Corda"}'),
  ('crime', '{"offense":"THEFT"}')`)
	require.NoError(t, err)

	facts, err := ZoneFacts(ctx, pool, "permit_count", "ward")
	require.NoError(t, err)
	assert.Equal(t, []ZoneFact{{Zone: "1", Value: 7}, {Zone: "2", Value: 1}}, facts)

	facts, err = ZoneFacts(ctx, pool, "crime_count", "neighborhood_cluster")
	require.NoError(t, err)
	assert.Empty(t, facts)

	records, err := Records(ctx, pool, "project")
	require.NoError(t, err)
	require.Len(t, records, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal(records[0], &first))
	assert.Equal(t, "Arthur Capper", first["name"])
}
