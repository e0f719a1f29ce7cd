// Package storage persists projects and an audit trail of changes to them.
//
// Drivers:
//   - "file": snapshot + journal files, no external dependencies
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//   - "memory" / "none" / "": process-local map, nothing survives restart
//
// Repository fronts a Store with a bounded read cache and announces every
// change on the event bus.
package storage
