// Package journal keeps a SQLite history of reconciliation runs.
//
// Each run is one row in runs, keyed by its run id, with one row per
// per-document result in outcomes. Writes are idempotent: recording the
// same report twice leaves the journal unchanged.
//
// # Database Configuration
//
//   - WAL mode: the CLI can read while a scheduled run writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: outcomes must reference a run
//
// Schema changes are tracked with PRAGMA user_version.
package journal
