// Package ledger provides LedgerSink implementations for recording model
// invocations.
package ledger

import (
	"sync"

	"github.com/hupe1980/debatemesh/core"
)

// InMemoryLedger collects invocation records in memory. It is safe for
// concurrent use and intended for tests and cost inspection in short lived
// processes; durable deployments should use the sqlite store instead.
type InMemoryLedger struct {
	mu      sync.RWMutex
	entries []core.LedgerEntry
}

// NewInMemoryLedger constructs an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

// Record implements core.LedgerSink.
func (l *InMemoryLedger) Record(entry core.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of every recorded entry in arrival order.
func (l *InMemoryLedger) Entries() []core.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// TotalCost sums the cost of all recorded entries.
func (l *InMemoryLedger) TotalCost() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, e := range l.entries {
		total += e.Cost
	}
	return total
}
