// Package storage is the SQLite persistence layer.
//
// Two tables, each with one natural key enforced by a UNIQUE constraint:
//   - notices, keyed by link
//   - subscribers, keyed by address
//
// The constraints are the only concurrency guard: concurrent writers of the
// same key resolve to one row, and the loser observes "not inserted".
package storage
