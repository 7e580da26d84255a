// Package store provides ContextStore implementations for persisting agent
// execution snapshots.
//
// InMemoryStore keeps snapshots in a process local map and is the default used
// by the engine when no store is configured. The sqlite subpackage provides a
// durable alternative backed by a local database file.
package store
