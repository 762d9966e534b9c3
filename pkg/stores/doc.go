// Package stores persists run history in SQLite: runs, per-lane results,
// artifact records and the event timeline. The schema is managed by
// embedded golang-migrate migrations and the database runs in WAL mode.
//
// StateManager adapts a SQLiteStore to engine.StateManager so the lane
// scheduler records every run it executes.
package stores
