package status

import "time"

// RunPhase is the orchestrator's position in its Idle -> Running -> Idle cycle
type RunPhase string

const (
	// RunPhaseIdle means no run holds the run lock
	RunPhaseIdle RunPhase = "Idle"

	// RunPhaseRunning means a run is in flight
	RunPhaseRunning RunPhase = "Running"
)

// TablePhase is the outcome of the last load attempt of a table
type TablePhase string

const (
	// TablePhaseLoaded means the last attempt put fresh upstream data in place
	TablePhaseLoaded TablePhase = "Loaded"

	// TablePhaseFailed means the last attempt failed and backup data is being served
	TablePhaseFailed TablePhase = "Failed"
)

// RunState is a snapshot of the orchestrator
type RunState struct {
	// Phase is Idle or Running
	Phase RunPhase `json:"phase"`

	// RunID identifies the in-flight run, empty when idle
	RunID string `json:"runId,omitempty"`

	// Origin is what started the in-flight run (scheduled, manual, cli)
	Origin string `json:"origin,omitempty"`

	// Tables is the ordered table list of the in-flight run
	Tables []string `json:"tables,omitempty"`

	// StartedAt is when the in-flight run acquired the run lock
	StartedAt *time.Time `json:"startedAt,omitempty"`

	// LastFinishedAt is when the previous run released the run lock
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
}

// TableStatus is the persisted load history of a single table
type TableStatus struct {
	// Phase is the outcome of the last attempt
	Phase TablePhase `json:"phase"`

	// Message is the failure or staleness detail of the last attempt
	Message string `json:"message,omitempty"`

	// LastAttempt is the timestamp of the last load attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSuccess is the timestamp of the last successful load
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// FailureCount is the number of failed attempts since the last success
	FailureCount int `json:"failureCount,omitempty"`

	// StaleDependencies lists dependencies that had failed when the table was last built
	StaleDependencies []string `json:"staleDependencies,omitempty"`

	// RunID is the run that made the last attempt
	RunID string `json:"runId,omitempty"`
}
