package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefordc/housing-insights-loader/database"
	"github.com/codefordc/housing-insights-loader/internal/backup"
)

func TestLoadersAgainstPostgres(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	store, err := backup.NewFileStore(t.TempDir())
	require.NoError(t, err)

	crime := NewTableLoader("crime", staticSource(crimeGeoJSON),
		WithRecordsPath("features.#.properties"),
		WithBackup(store),
	)
	permit := NewTableLoader("permit", staticSource(`[{"WARD":"6","PERMIT_TYPE":"CONSTRUCTION"}]`),
		WithBackup(store),
	)

	require.NoError(t, crime.Load(ctx, pool))
	require.NoError(t, permit.Load(ctx, pool))

	// A second load replaces rather than appends
	require.NoError(t, crime.Load(ctx, pool))

	var crimeRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM dataset_record WHERE table_name = 'crime'`).Scan(&crimeRows))
	assert.Equal(t, 2, crimeRows)

	require.NoError(t, NewZoneFactsLoader(nil).Load(ctx, pool))

	var crimeCount, permitCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT crime_count, permit_count FROM zone_facts WHERE zone_type = 'ward' AND zone = '6'`,
	).Scan(&crimeCount, &permitCount))
	assert.Equal(t, 1, crimeCount)
	assert.Equal(t, 1, permitCount)

	var clusters int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM zone_facts WHERE zone_type = 'neighborhood_cluster'`).Scan(&clusters))
	assert.Equal(t, 2, clusters)

	// Upstream outage: the snapshot saved above is restored
	offline := NewTableLoader("crime", failingSource(errBoom),
		WithRecordsPath("features.#.properties"),
		WithBackup(store),
	)
	err = offline.Load(ctx, pool)
	require.ErrorIs(t, err, ErrUsedBackup)

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM dataset_record WHERE table_name = 'crime'`).Scan(&crimeRows))
	assert.Equal(t, 2, crimeRows)
}
