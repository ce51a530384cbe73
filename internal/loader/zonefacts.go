package loader

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/codefordc/housing-insights-loader/internal/otel"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

const (
	deleteZoneFactsSQL = `DELETE FROM zone_facts`

	buildZoneFactsSQL = `
INSERT INTO zone_facts (zone_type, zone, crime_count, permit_count, updated_at)
SELECT z.zone_type,
       z.zone,
       COUNT(*) FILTER (WHERE z.table_name = 'crime'),
       COUNT(*) FILTER (WHERE z.table_name = 'permit'),
       now()
  FROM (
        SELECT r.table_name, t.zone_type, t.zone
          FROM dataset_record r
    CROSS JOIN LATERAL (VALUES
                 ('ward', r.record->>'ward'),
                 ('census_tract', r.record->>'census_tract'),
                 ('neighborhood_cluster', r.record->>'neighborhood_cluster')
               ) AS t(zone_type, zone)
         WHERE r.table_name IN ('crime', 'permit')
           AND COALESCE(t.zone, '') <> ''
       ) z
 GROUP BY z.zone_type, z.zone`
)

// ZoneFactsLoader rebuilds the zone_facts aggregate from the stored crime and
// permit records
type ZoneFactsLoader struct {
	tracer trace.Tracer
}

// NewZoneFactsLoader creates the aggregate loader. The tracer may be nil.
func NewZoneFactsLoader(tracer trace.Tracer) *ZoneFactsLoader {
	return &ZoneFactsLoader{tracer: tracer}
}

// Load replaces every zone_facts row in one transaction
func (l *ZoneFactsLoader) Load(ctx context.Context, res refresh.Resource) error {
	ctx, span := otel.StartSpan(ctx, l.tracer, "loader.ZoneFacts",
		trace.WithAttributes(otel.AttrTable.String(refresh.TableZoneFacts)),
	)
	defer span.End()

	err := l.build(ctx, res)
	otel.RecordError(span, err)
	return err
}

func (*ZoneFactsLoader) build(ctx context.Context, res refresh.Resource) error {
	tx, err := res.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx, deleteZoneFactsSQL); err != nil {
		return fmt.Errorf("failed to clear zone facts: %w", err)
	}
	tag, err := tx.Exec(ctx, buildZoneFactsSQL)
	if err != nil {
		return fmt.Errorf("failed to build zone facts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no crime or permit records carry zone fields")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit zone facts: %w", err)
	}
	return nil
}
