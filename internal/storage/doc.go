// Package storage persists sources, destinations, posts, settings, admins
// and the audit log.
//
// Two drivers exist: "sqlite" (modernc.org/sqlite, schema managed by
// golang-migrate) and "memory" (process-local, used by tests and dry runs).
package storage
