// Package repository defines the data access interfaces for the
// Vigilarium fusion store.
//
// This package provides the repository abstraction for persisting
// and retrieving domain entities. The actual implementation is in
// the sqlite subpackage.
//
// # Repository Interface
//
// The Repository interface covers the four stored entity kinds:
// clients, observations (append-only evidence), network assets
// (canonical fused records), and asset history (append-only
// lifecycle transitions).
//
// # SQLite Implementation
//
// The sqlite implementation uses WAL mode for concurrency, JSON
// columns for payloads and tag sets alongside indexed identity
// columns, and a unique (client_id, identity_key) constraint that
// makes divergent duplicate asset rows impossible even under
// concurrent fusion. A unique index over the observation dedup key
// gives INSERT OR IGNORE semantics for replayed batches.
package repository
