// Package storage is triggerd's optional audit trail.
//
// Lifecycle events (timers started/stopped/fired, subscriptions and
// connections opened/closed) are appended by the recorder and read back by
// the control API. Nothing here is used to restore timers after a restart.
//
// Drivers:
//   - "file": JSON Lines file, no extra dependencies
//   - "sqlite": modernc.org/sqlite with an embedded schema
//   - "badger": dgraph-io/badger key-value store
package storage
