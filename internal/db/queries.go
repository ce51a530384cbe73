package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidGrouping is returned for a zone type other than ward,
	// census_tract or neighborhood_cluster
	ErrInvalidGrouping = errors.New("invalid grouping")

	// ErrUnknownColumn is returned for a zone facts column that does not exist
	ErrUnknownColumn = errors.New("unknown column")
)

// Groupings are the zone types zone facts can be read by
var Groupings = []string{"ward", "census_tract", "neighborhood_cluster"}

// ZoneFactColumns are the readable zone facts columns. Column names are
// interpolated into SQL, so only these are accepted.
var ZoneFactColumns = []string{"crime_count", "permit_count"}

// Querier is the read side of a pool or transaction
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ZoneFact is one zone's value of a zone facts column
type ZoneFact struct {
	Zone  string `json:"zone"`
	Value int64  `json:"value"`
}

// ZoneFacts returns column for every zone of the grouping, ordered by zone
func ZoneFacts(ctx context.Context, q Querier, column, grouping string) ([]ZoneFact, error) {
	if !slices.Contains(Groupings, grouping) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGrouping, grouping)
	}
	if !slices.Contains(ZoneFactColumns, column) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}

	sql := fmt.Sprintf(
		`SELECT zone, %s FROM zone_facts WHERE zone_type = $1 ORDER BY zone`,
		pgx.Identifier{column}.Sanitize(),
	)
	rows, err := q.Query(ctx, sql, grouping)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone facts: %w", err)
	}

	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ZoneFact, error) {
		var f ZoneFact
		err := row.Scan(&f.Zone, &f.Value)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read zone facts: %w", err)
	}
	return facts, nil
}

// Records returns the stored records of a table in load order
func Records(ctx context.Context, q Querier, table string) ([]json.RawMessage, error) {
	rows, err := q.Query(ctx,
		`SELECT record FROM dataset_record WHERE table_name = $1 ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", table, err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (json.RawMessage, error) {
		var raw []byte
		err := row.Scan(&raw)
		return json.RawMessage(raw), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s records: %w", table, err)
	}
	return records, nil
}
