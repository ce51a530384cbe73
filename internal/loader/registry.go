package loader

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/codefordc/housing-insights-loader/internal/backup"
	"github.com/codefordc/housing-insights-loader/internal/config"
	"github.com/codefordc/housing-insights-loader/internal/httpclient"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

// BaseTables are the tables loaded directly from an upstream source
var BaseTables = []string{
	refresh.TableACS,
	refresh.TableCrime,
	refresh.TablePermit,
	refresh.TableProject,
	refresh.TableSubsidy,
}

var displayNames = map[string]string{
	refresh.TableACS: "ACS",
}

// NewRegistry wires a loader for every known table. Base tables without a
// configured source still resolve; their loads fall back to the backup store.
func NewRegistry(
	tables []config.TableConfig,
	client httpclient.Client,
	store backup.Store,
	tracer trace.Tracer,
) (*refresh.Registry, error) {
	sources := make(map[string]config.TableConfig, len(tables))
	for _, t := range tables {
		sources[t.Name] = t
	}

	entries := make([]refresh.Entry, 0, len(BaseTables)+1)
	for _, table := range BaseTables {
		var (
			src  Source
			opts = []TableOption{WithBackup(store), WithLoaderTracer(tracer)}
		)

		if tc, ok := sources[table]; ok {
			src = NewHTTPSource(client, tc.Source, tc.GetTimeout())
			opts = append(opts, WithRecordsPath(tc.RecordsPath))
			delete(sources, table)
		} else {
			src = unconfiguredSource(table)
		}

		entries = append(entries, refresh.Entry{
			Table:       table,
			DisplayName: displayNames[table],
			Loader:      NewTableLoader(table, src, opts...),
		})
	}

	entries = append(entries, refresh.Entry{
		Table:     refresh.TableZoneFacts,
		DependsOn: []string{refresh.TableCrime, refresh.TablePermit},
		Loader:    NewZoneFactsLoader(tracer),
	})

	for name := range sources {
		return nil, fmt.Errorf("table '%s' cannot be configured with an upstream source", name)
	}

	return refresh.NewRegistry(entries...)
}

func unconfiguredSource(table string) Source {
	return SourceFunc(func(context.Context) ([]byte, error) {
		return nil, fmt.Errorf("no upstream source configured for table %s", table)
	})
}
