package refresh

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codefordc/housing-insights-loader/internal/telemetry"
)

// InvalidAttemptReport is sent when a manual trigger presents the wrong secret
const InvalidAttemptReport = "Invalid data loading attempted."

// OutcomeKind classifies the answer to a manual trigger
type OutcomeKind string

const (
	// OutcomeUnauthorized means the secret did not match, nothing was loaded
	OutcomeUnauthorized OutcomeKind = "unauthorized"

	// OutcomeUnknownTable means the identifier is not registered, nothing was loaded
	OutcomeUnknownTable OutcomeKind = "unknown_table"

	// OutcomeBusy means another run held the run lock, nothing was loaded
	OutcomeBusy OutcomeKind = "busy"

	// OutcomeInterrupted means the request was cancelled before the load ran
	OutcomeInterrupted OutcomeKind = "interrupted"

	// OutcomeLoaded means fresh upstream data is in place
	OutcomeLoaded OutcomeKind = "loaded"

	// OutcomeFailed means the load was attempted and backup data is in use
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the human-facing answer to a manual trigger
type Outcome struct {
	Kind  OutcomeKind
	Table string

	// Valid lists the accepted identifiers when Kind is OutcomeUnknownTable
	Valid []string

	// Result is set when a load was attempted
	Result *LoadResult
}

// Message renders the outcome for an operator
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeUnauthorized:
		return "Invalid Password: Please Try Again"
	case OutcomeUnknownTable:
		return fmt.Sprintf("Invalid Table Name: Please Try Again. Tables Are: %s", strings.Join(o.Valid, ", "))
	case OutcomeBusy:
		return "A data refresh is already in progress. Please try again later."
	case OutcomeInterrupted:
		return fmt.Sprintf("Loading of %s table was interrupted.", o.Table)
	case OutcomeLoaded:
		return fmt.Sprintf("Success! Loaded %s table.", o.Table)
	default:
		return fmt.Sprintf("Unable to load %s table. The source data may be unavailable. "+
			"Housing insights will load the backup data.", o.Table)
	}
}

// Trigger is the password-gated single-table refresh entry point
type Trigger struct {
	orch     *Orchestrator
	notifier Notifier
	secret   []byte
	metrics  *telemetry.RefreshMetrics
}

// NewTrigger creates a manual trigger. The secret is captured once.
func NewTrigger(orch *Orchestrator, notifier Notifier, secret string, metrics *telemetry.RefreshMetrics) (*Trigger, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("load data secret is required")
	}

	return &Trigger{
		orch:     orch,
		notifier: notifier,
		secret:   []byte(secret),
		metrics:  metrics,
	}, nil
}

// Trigger refreshes a single table. The returned error is nil when a load was
// attempted, whatever its outcome; otherwise it is ErrUnauthorized, an
// *UnknownTableError, ErrRunInProgress or ErrRunInterrupted.
func (t *Trigger) Trigger(ctx context.Context, table, secret string) (Outcome, error) {
	if subtle.ConstantTimeCompare([]byte(secret), t.secret) != 1 {
		slog.Warn("Rejected manual refresh with invalid secret", "table", table)
		send(ctx, t.notifier, t.metrics, InvalidAttemptReport)
		return Outcome{Kind: OutcomeUnauthorized, Table: table}, ErrUnauthorized
	}

	if _, err := t.orch.Registry().lookup(table); err != nil {
		var unknown *UnknownTableError
		valid := t.orch.Registry().Tables()
		if errors.As(err, &unknown) {
			valid = unknown.Valid
		}
		return Outcome{Kind: OutcomeUnknownTable, Table: table, Valid: valid}, err
	}

	results, err := t.orch.TryRun(ctx, OriginManual, []string{table})
	switch {
	case errors.Is(err, ErrRunInProgress):
		slog.Info("Manual refresh rejected, run in progress", "table", table)
		return Outcome{Kind: OutcomeBusy, Table: table}, err
	case err != nil:
		return Outcome{Kind: OutcomeInterrupted, Table: table}, err
	}

	result := results[0]
	outcome := Outcome{Kind: OutcomeFailed, Table: table, Result: &result}
	if result.Succeeded {
		outcome.Kind = OutcomeLoaded
	}

	send(ctx, t.notifier, t.metrics, t.orch.Registry().ReportLine(result))
	return outcome, nil
}
