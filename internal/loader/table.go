package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/codefordc/housing-insights-loader/internal/backup"
	"github.com/codefordc/housing-insights-loader/internal/otel"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

// ErrUsedBackup marks a load that fell back to the last known good snapshot.
// The table holds valid data but it is not fresh.
var ErrUsedBackup = errors.New("using backup")

const (
	deleteRecordsSQL = `DELETE FROM dataset_record WHERE table_name = $1`
)

var recordColumns = []string{"table_name", "record", "loaded_at"}

// TableLoader refreshes one base table from its upstream source
type TableLoader struct {
	table       string
	source      Source
	recordsPath string
	backup      backup.Store
	tracer      trace.Tracer
	now         func() time.Time
}

// TableOption configures a TableLoader
type TableOption func(*TableLoader)

// WithRecordsPath sets the gjson path of the record array
func WithRecordsPath(path string) TableOption {
	return func(l *TableLoader) {
		l.recordsPath = path
	}
}

// WithBackup sets the snapshot store used for fallback
func WithBackup(store backup.Store) TableOption {
	return func(l *TableLoader) {
		l.backup = store
	}
}

// WithLoaderTracer sets the tracer for load spans
func WithLoaderTracer(tracer trace.Tracer) TableOption {
	return func(l *TableLoader) {
		l.tracer = tracer
	}
}

// NewTableLoader creates a loader for table reading from source
func NewTableLoader(table string, source Source, opts ...TableOption) *TableLoader {
	l := &TableLoader{
		table:  table,
		source: source,
		backup: backup.NopStore{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the upstream document and replaces the table's records in one
// transaction. When the upstream is unavailable or malformed the last
// snapshot is loaded instead and the returned error wraps ErrUsedBackup.
// When neither works the stored records are left untouched.
func (l *TableLoader) Load(ctx context.Context, res refresh.Resource) error {
	ctx, span := otel.StartSpan(ctx, l.tracer, "loader.Table",
		trace.WithAttributes(otel.AttrTable.String(l.table)),
	)
	defer span.End()

	data, records, fetchErr := l.fetch(ctx)
	if fetchErr == nil {
		if err := l.replace(ctx, res, records); err != nil {
			otel.RecordError(span, err)
			return err
		}
		span.SetAttributes(otel.AttrRecordCount.Int(len(records)), otel.AttrBackupUsed.Bool(false))

		if err := l.backup.Save(ctx, l.table, data); err != nil {
			slog.Warn("Failed to save backup snapshot", "table", l.table, "error", err)
		}
		return nil
	}

	otel.RecordError(span, fetchErr)
	slog.Warn("Upstream load failed, falling back to backup", "table", l.table, "error", fetchErr)

	records, err := l.restore(ctx)
	if err != nil {
		return fmt.Errorf("%w; backup unavailable: %w", fetchErr, err)
	}
	if err := l.replace(ctx, res, records); err != nil {
		return fmt.Errorf("%w; backup load failed: %w", fetchErr, err)
	}
	span.SetAttributes(otel.AttrRecordCount.Int(len(records)), otel.AttrBackupUsed.Bool(true))

	return fmt.Errorf("%w: %w", ErrUsedBackup, fetchErr)
}

func (l *TableLoader) fetch(ctx context.Context) ([]byte, [][]byte, error) {
	data, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := ExtractRecords(data, l.recordsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s payload: %w", l.table, err)
	}
	return data, records, nil
}

func (l *TableLoader) restore(ctx context.Context) ([][]byte, error) {
	snapshot, err := l.backup.Load(ctx, l.table)
	if err != nil {
		return nil, err
	}
	records, err := ExtractRecords(snapshot, l.recordsPath)
	if err != nil {
		return nil, fmt.Errorf("backup snapshot is unusable: %w", err)
	}
	return records, nil
}

// replace swaps the stored records of the table inside a single transaction
func (l *TableLoader) replace(ctx context.Context, res refresh.Resource, records [][]byte) error {
	tx, err := res.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx, deleteRecordsSQL, l.table); err != nil {
		return fmt.Errorf("failed to clear %s records: %w", l.table, err)
	}

	loadedAt := l.now().UTC()
	rows := make([][]any, len(records))
	for i, record := range records {
		rows[i] = []any{l.table, record, loadedAt}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"dataset_record"}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy %s records: %w", l.table, err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copied %d of %d %s records", n, len(records), l.table)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s records: %w", l.table, err)
	}
	return nil
}

// rollback is a no-op after a successful commit
func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Warn("Failed to roll back transaction", "error", err)
	}
}
