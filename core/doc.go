// Package core provides the foundational domain types and interfaces used by
// debatemesh. It defines the core abstractions for:
//
//   - AgentContext (the durable state of one agent run and its step history)
//   - Execution states and the error taxonomy of the runtime
//   - Tagged model outputs (text vs. schema-validated structured objects)
//   - Pluggable stores for context snapshots and the invocation ledger
//
// The package intentionally keeps implementation concerns (persistence, engine
// orchestration, concrete providers) out of scope, exposing small interfaces
// to enable custom backends and extensions.
package core
