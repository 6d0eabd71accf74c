// Package storage persists families, their bound devices (members) and a
// dispatch audit trail.
//
// Drivers:
//   - "memory": process-local maps; nothing survives a restart
//   - "badger": embedded key-value store (github.com/dgraph-io/badger/v4)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
