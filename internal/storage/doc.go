// Package storage persists subscriptions keyed by account id, with an
// auxiliary index from delivered message references back to their owner.
//
// Two backends are available:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": snapshot + append-only journal, no external dependencies
//
// Both also keep an append-only audit log of subscription commands.
package storage
