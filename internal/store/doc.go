// Package store provides the SQLite run ledger for proofpipe.
//
// Each pipeline run is written once, in a single transaction:
//   - runs: one row per run with the pipeline and IR versions
//   - requirements: one row per (run, requirement) holding the disposition,
//     so a requirement can never carry two dispositions
//   - trail_events: every attempt in the order the run's logical clock
//     stamped it, UNIQUE(run_id, seq)
//   - obligations: the packaged leftover for each Obligation requirement
//
// # Ordering
//
// All queries order by seq (or input position), never by timestamps, so a
// trace printed from the ledger matches the trail the run produced.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Trail event ids are content-addressed (internal/ir/hash.go); AuditRun
// recomputes them to detect ledger corruption.
package store
