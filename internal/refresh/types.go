package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Canonical table identifiers
const (
	TableACS       = "acs"
	TableCrime     = "crime"
	TablePermit    = "permit"
	TableProject   = "project"
	TableSubsidy   = "subsidy"
	TableZoneFacts = "zone_facts"
)

// DailyTables is the ordered list refreshed by the scheduler: base tables first,
// then the aggregate built from them.
var DailyTables = []string{TableCrime, TablePermit, TableZoneFacts}

// Origin identifies what started a run
type Origin string

const (
	// OriginScheduled is the daily scheduled run
	OriginScheduled Origin = "scheduled"

	// OriginManual is a password-gated refresh requested over HTTP
	OriginManual Origin = "manual"

	// OriginCLI is a one-shot refresh started from the command line
	OriginCLI Origin = "cli"
)

var (
	// ErrUnknownTable is returned when a table identifier is not registered
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnauthorized is returned when a manual trigger presents the wrong secret
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRunInProgress is returned when a run is requested while another one holds the run lock
	ErrRunInProgress = errors.New("a refresh is already in progress")

	// ErrRunInterrupted is returned when a run is cancelled before every table was attempted
	ErrRunInterrupted = errors.New("refresh run interrupted")
)

// Resource is the shared database handle loaders write through. Each loader owns
// its transactional boundary and must not leave a table half written.
type Resource interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Loader refreshes a single table from its upstream source
//
//go:generate mockgen -destination=mocks/mock_loader.go -package=mocks github.com/codefordc/housing-insights-loader/internal/refresh Loader
type Loader interface {
	// Load replaces the table contents. A nil error means the fresh upstream data
	// is now in place.
	Load(ctx context.Context, res Resource) error
}

// LoaderFunc adapts a plain function to the Loader interface
type LoaderFunc func(ctx context.Context, res Resource) error

// Load calls f(ctx, res)
func (f LoaderFunc) Load(ctx context.Context, res Resource) error {
	return f(ctx, res)
}

// Notifier delivers a human-readable report
//
//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/codefordc/housing-insights-loader/internal/refresh Notifier
type Notifier interface {
	Send(ctx context.Context, report string) error
}

// UnknownTableError carries the identifier that failed to resolve and the
// identifiers that would have been accepted.
type UnknownTableError struct {
	Table string
	Valid []string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table %q (valid tables: %s)", e.Table, strings.Join(e.Valid, ", "))
}

// Is reports whether target is ErrUnknownTable
func (*UnknownTableError) Is(target error) bool {
	return target == ErrUnknownTable
}

// LoadError is a loader failure recorded by the orchestrator
type LoadError struct {
	Err     error
	Message string
	Table   string
}

func (e *LoadError) Error() string {
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadResult is the outcome of one table within a run. Results are values and
// are never modified after the orchestrator returns them.
type LoadResult struct {
	// Table is the identifier that was requested
	Table string

	// Succeeded reports the loader's own outcome
	Succeeded bool

	// Detail describes a failure or a stale build; empty on a clean success
	Detail string

	// StaleDependencies lists dependencies that failed earlier in the same run
	StaleDependencies []string

	// Timestamp is when the loader returned
	Timestamp time.Time

	// Duration is how long the loader ran
	Duration time.Duration
}

// Stale reports whether the table was built from at least one failed dependency
func (r LoadResult) Stale() bool {
	return len(r.StaleDependencies) > 0
}
