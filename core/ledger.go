package core

import "time"

// LedgerEntry records one model invocation for audit and cost accounting.
// The scheduling logic never reads the ledger back.
type LedgerEntry struct {
	AgentID     string    `json:"agent_id"`
	ExecutionID string    `json:"execution_id"`
	Participant string    `json:"participant"`
	Provider    string    `json:"provider"`
	Request     string    `json:"request"`
	Response    string    `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	Cost        float64   `json:"cost"`
	Tokens      int       `json:"tokens"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// LedgerSink receives invocation records. Calls are fire-and-forget from the
// engine's perspective: a sink failure must never fail a step, so
// implementations should swallow their own errors or hand records off
// asynchronously.
type LedgerSink interface {
	Record(entry LedgerEntry)
}

// NoOpLedger discards all entries. Default when no ledger is configured.
type NoOpLedger struct{}

// Record implements LedgerSink.
func (NoOpLedger) Record(LedgerEntry) {}
