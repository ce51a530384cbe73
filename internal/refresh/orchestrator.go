package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/codefordc/housing-insights-loader/internal/otel"
	"github.com/codefordc/housing-insights-loader/internal/status"
	"github.com/codefordc/housing-insights-loader/internal/telemetry"
)

const (
	// DefaultLockRetryDelay is how often a blocking run polls a held lock file
	DefaultLockRetryDelay = 500 * time.Millisecond

	staleDependencyPrefix = "built from stale dependency: "
)

// Orchestrator runs loaders for an ordered list of tables. Every run, whatever
// started it, holds the single process run lock for its whole duration.
type Orchestrator struct {
	registry *Registry
	resource Resource

	persistence    status.StatusPersistence
	metrics        *telemetry.RefreshMetrics
	tracer         trace.Tracer
	lockFile       string
	lockRetryDelay time.Duration
	now            func() time.Time

	runLock *semaphore.Weighted

	mu    sync.RWMutex
	state status.RunState
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStatusPersistence records per-table status after each load
func WithStatusPersistence(p status.StatusPersistence) Option {
	return func(o *Orchestrator) {
		o.persistence = p
	}
}

// WithMetrics sets the refresh metrics. A nil value disables metrics.
func WithMetrics(m *telemetry.RefreshMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for run and load spans
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithLockFile additionally guards runs with an advisory lock on path, so that
// a CLI refresh and a running server never write the same tables at once.
func WithLockFile(path string) Option {
	return func(o *Orchestrator) {
		o.lockFile = path
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator over registry writing through res
func NewOrchestrator(registry *Registry, res Resource, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	o := &Orchestrator{
		registry:       registry,
		resource:       res,
		lockRetryDelay: DefaultLockRetryDelay,
		now:            time.Now,
		runLock:        semaphore.NewWeighted(1),
		state:          status.RunState{Phase: status.RunPhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Registry returns the table registry the orchestrator resolves against
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// State returns a snapshot of the orchestrator
func (o *Orchestrator) State() status.RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state := o.state
	state.Tables = slices.Clone(o.state.Tables)
	return state
}

// Run waits for the run lock and then refreshes tables in order. It returns one
// result per identifier, in the same order. If ctx is cancelled before every
// table was attempted, the partial results are returned together with an error
// matching ErrRunInterrupted.
func (o *Orchestrator) Run(ctx context.Context, origin Origin, tables []string) ([]LoadResult, error) {
	if err := o.runLock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w while waiting for the run lock: %w", ErrRunInterrupted, err)
	}
	defer o.runLock.Release(1)

	unlock, err := o.lockProcess(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return o.run(ctx, origin, tables)
}

// TryRun is Run without waiting: if another run holds the lock it returns
// ErrRunInProgress and invokes no loader.
func (o *Orchestrator) TryRun(ctx context.Context, origin Origin, tables []string) ([]LoadResult, error) {
	if !o.runLock.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	defer o.runLock.Release(1)

	unlock, err := o.lockProcess(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return o.run(ctx, origin, tables)
}

// lockProcess takes the optional cross-process lock file
func (o *Orchestrator) lockProcess(ctx context.Context, wait bool) (func(), error) {
	if o.lockFile == "" {
		return func() {}, nil
	}

	fl := flock.New(o.lockFile)

	var locked bool
	var err error
	if wait {
		locked, err = fl.TryLockContext(ctx, o.lockRetryDelay)
	} else {
		locked, err = fl.TryLock()
	}

	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("%w while waiting for lock file: %w", ErrRunInterrupted, ctx.Err())
	case err != nil:
		return nil, fmt.Errorf("failed to lock %s: %w", o.lockFile, err)
	case !locked:
		return nil, ErrRunInProgress
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("Failed to release lock file", "path", o.lockFile, "error", err)
		}
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, origin Origin, tables []string) ([]LoadResult, error) {
	runID := uuid.NewString()

	ctx, span := otel.StartSpan(ctx, o.tracer, "refresh.Run",
		trace.WithAttributes(
			otel.AttrRunID.String(runID),
			otel.AttrOrigin.String(string(origin)),
			otel.AttrTableCount.Int(len(tables)),
		),
	)
	defer span.End()

	logger := slog.With("run_id", runID, "trigger", string(origin))

	o.setRunning(runID, origin, tables)
	defer o.setIdle()

	logger.Info("Starting refresh run", "tables", strings.Join(tables, ","))
	start := o.now()

	results := make([]LoadResult, 0, len(tables))
	outcomes := make(map[string]bool, len(tables))

	interrupted := func(err error) ([]LoadResult, error) {
		logger.Warn("Refresh run interrupted",
			"attempted", len(results),
			"remaining", len(tables)-len(results),
		)
		runErr := fmt.Errorf("%w after %d of %d tables: %w", ErrRunInterrupted, len(results), len(tables), err)
		otel.RecordError(span, runErr)
		return results, runErr
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return interrupted(err)
		}

		result := o.loadTable(ctx, logger, runID, table, outcomes)
		outcomes[table] = result.Succeeded
		results = append(results, result)
	}

	// A cancellation during the last loader leaves its result unreliable
	if err := ctx.Err(); err != nil {
		return interrupted(err)
	}

	o.metrics.RecordRun(ctx, string(origin))

	failed := 0
	for _, r := range results {
		if !r.Succeeded {
			failed++
		}
	}
	logger.Info("Refresh run completed",
		"tables", len(results),
		"failed", failed,
		"duration", o.now().Sub(start).String(),
	)

	return results, nil
}

// loadTable invokes one loader and turns its outcome into a result. It never
// returns an error: every failure mode is recorded in the result.
func (o *Orchestrator) loadTable(
	ctx context.Context,
	logger *slog.Logger,
	runID string,
	table string,
	outcomes map[string]bool,
) LoadResult {
	ctx, span := otel.StartSpan(ctx, o.tracer, "refresh.LoadTable",
		trace.WithAttributes(otel.AttrTable.String(table), otel.AttrRunID.String(runID)),
	)
	defer span.End()

	logger = logger.With("table", table)

	entry, err := o.registry.lookup(table)
	if err != nil {
		logger.Warn("Skipping unknown table", "error", err)
		otel.RecordError(span, err)
		return LoadResult{
			Table:     table,
			Succeeded: false,
			Detail:    err.Error(),
			Timestamp: o.now(),
		}
	}

	stale := staleDependencies(entry, outcomes)
	if len(stale) > 0 {
		logger.Warn("Building table from stale dependencies", "dependencies", strings.Join(stale, ","))
	}

	start := o.now()
	loadErr := o.invoke(ctx, entry)
	finished := o.now()

	result := LoadResult{
		Table:             table,
		Succeeded:         loadErr == nil,
		StaleDependencies: stale,
		Timestamp:         finished,
		Duration:          finished.Sub(start),
	}
	result.Detail = resultDetail(loadErr, stale)

	if loadErr != nil {
		otel.RecordError(span, loadErr)
		logger.Error("Table load failed", "error", loadErr, "duration", result.Duration.String())
	} else {
		logger.Info("Table load succeeded", "duration", result.Duration.String())
	}

	o.metrics.RecordLoadDuration(ctx, table, result.Duration, result.Succeeded)
	o.saveStatus(ctx, runID, result)

	return result
}

// invoke calls the loader, converting a panic into a LoadError
func (o *Orchestrator) invoke(ctx context.Context, entry Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{
				Err:     fmt.Errorf("panic: %v", r),
				Message: fmt.Sprintf("loader panicked: %v", r),
				Table:   entry.Table,
			}
		}
	}()

	if err := entry.Loader.Load(ctx, o.resource); err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return err
		}
		return &LoadError{Err: err, Message: err.Error(), Table: entry.Table}
	}
	return nil
}

// staleDependencies lists the declared dependencies that were attempted earlier
// in this run and failed. Dependencies outside the run are not considered.
func staleDependencies(entry Entry, outcomes map[string]bool) []string {
	var stale []string
	for _, dep := range entry.DependsOn {
		if succeeded, attempted := outcomes[dep]; attempted && !succeeded {
			stale = append(stale, dep)
		}
	}
	return stale
}

func resultDetail(loadErr error, stale []string) string {
	var parts []string
	if loadErr != nil {
		parts = append(parts, loadErr.Error())
	}
	if len(stale) > 0 {
		parts = append(parts, staleDependencyPrefix+strings.Join(stale, ", "))
	}
	return strings.Join(parts, "; ")
}

func (o *Orchestrator) saveStatus(ctx context.Context, runID string, result LoadResult) {
	if o.persistence == nil {
		return
	}

	ts, err := o.persistence.LoadStatus(ctx, result.Table)
	if err != nil {
		slog.Warn("Failed to load table status, starting fresh", "table", result.Table, "error", err)
		ts = &status.TableStatus{}
	}

	attempt := result.Timestamp
	ts.LastAttempt = &attempt
	ts.RunID = runID
	ts.Message = result.Detail
	ts.StaleDependencies = slices.Clone(result.StaleDependencies)
	if result.Succeeded {
		ts.Phase = status.TablePhaseLoaded
		ts.LastSuccess = &attempt
		ts.FailureCount = 0
	} else {
		ts.Phase = status.TablePhaseFailed
		ts.FailureCount++
	}

	if err := o.persistence.SaveStatus(ctx, result.Table, ts); err != nil {
		slog.Error("Failed to persist table status", "table", result.Table, "error", err)
	}
}

func (o *Orchestrator) setRunning(runID string, origin Origin, tables []string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	started := o.now()
	o.state.Phase = status.RunPhaseRunning
	o.state.RunID = runID
	o.state.Origin = string(origin)
	o.state.Tables = slices.Clone(tables)
	o.state.StartedAt = &started
}

func (o *Orchestrator) setIdle() {
	o.mu.Lock()
	defer o.mu.Unlock()

	finished := o.now()
	o.state = status.RunState{
		Phase:          status.RunPhaseIdle,
		LastFinishedAt: &finished,
	}
}
