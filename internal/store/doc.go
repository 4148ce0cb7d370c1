// Package store persists the supervisor's lifecycle ledger using SQLite.
//
// Every agent creation, stop, eviction, reap, message exchange and broadcast
// is appended as an Event. The ledger is write-mostly; it is read back by the
// HTTP API's history endpoint with cursor pagination.
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode and
// creates its schema on open. MockStore is an in-memory implementation for
// tests. Recorder adapts either one to agent.Recorder.
package store
