// Package store provides the relational persistence layer for the
// navigator service.
//
// # Overview
//
// The store is SQLite-backed (modernc.org/sqlite, pure Go, no cgo) and
// holds the durable records of the pipeline: households, household
// members, tax returns, the submissions table the e-file queue polls,
// gateway acknowledgment records, and per-phone SMS conversation state.
//
// Open initializes the database, applies pragmas suited to a
// single-process writer (WAL, busy_timeout) and runs any pending schema
// migrations. Migrations are versioned through PRAGMA user_version and
// applied in order inside a transaction.
//
//	db, err := store.Open("/var/lib/navigator/navigator.db")
//	if err != nil { ... }
//	defer db.Close()
//
// # In-memory KV
//
// MemoryKV is a small keyed store with optional TTL expiry. It backs
// ephemeral state (SMS conversation flows in tests, gateway probe
// bookkeeping) where SQLite durability is not needed.
package store
