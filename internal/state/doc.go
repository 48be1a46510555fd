// Package state owns the local SQLite database that outlives a run.
//
// It holds one checkpoint per (run id, environment), the quarantine ledger
// keyed by (batch id, original key), and the check_cache table used by the
// SQL file check cache backend. The schema is applied with golang-migrate from
// embedded SQL files. Writes retry briefly when SQLite reports the database as
// busy; a checkpoint write that still fails surfaces as CheckpointPersistError,
// which callers treat as fatal.
package state
