// Package refresh orchestrates the reloading of the housing-insights tables from
// their upstream open-data sources.
//
// The package is split into a few small pieces:
//
//   - Registry: the fixed mapping from table identifier to the Loader that
//     refreshes it, plus the dependency declarations of derived tables
//   - Orchestrator: runs an ordered list of tables, one loader at a time, and
//     returns one LoadResult per table
//   - Scheduler: fires the daily run and mails the resulting report
//   - Trigger: the password-gated entry point used to refresh a single table
//
// # Run Semantics
//
// A run never stops early because one table failed. Unknown identifiers,
// loader errors and loader panics are all converted into a failed LoadResult
// and the next table is attempted. Derived tables (zone_facts) are always
// built; when one of their dependencies failed earlier in the same run the
// result is flagged as built from a stale dependency.
//
// # Concurrency
//
// Every run, scheduled or manual, holds the orchestrator's run lock for its
// whole duration. The scheduler waits for the lock, so a daily fire that lands
// during a manual refresh is deferred until that refresh completes. The manual
// trigger does not wait and reports ErrRunInProgress instead. An optional lock
// file extends the same guarantee across processes (for example a one-shot
// "hi-loader refresh" next to a running server).
//
// # Notifications
//
// The orchestrator never notifies. The scheduler and the trigger format the
// report and hand it to a Notifier; delivery failures are logged and counted
// but never turn into load failures.
package refresh
