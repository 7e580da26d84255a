package core

// ListFilter narrows ContextStore.List results. Zero value matches everything.
type ListFilter struct {
	// States restricts results to the given execution states when non-empty.
	States []ExecutionState
	// RootID restricts results to one branch lineage when non-empty.
	RootID string
}

// Matches reports whether a context satisfies the filter.
func (f ListFilter) Matches(c *AgentContext) bool {
	if f.RootID != "" && c.RootID != f.RootID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if c.State == s {
			return true
		}
	}
	return false
}

// ContextStore persists AgentContext snapshots keyed by agent identifier.
// Implementations must be safe for concurrent access across agents and must
// treat saved contexts as immutable snapshots: Save stores a copy, Load
// returns a copy. The engine never deletes contexts itself; Delete exists for
// external lifecycle management.
type ContextStore interface {
	// Load returns the latest snapshot for an agent, or ErrNotFound.
	Load(agentID string) (*AgentContext, error)
	// LoadExecution returns the snapshot of a specific execution attempt, or
	// ErrNotFound. Snapshots of superseded executions remain addressable so
	// branch lineages stay inspectable.
	LoadExecution(agentID, executionID string) (*AgentContext, error)
	// Save persists a snapshot, making it the latest for its agent. Saving an
	// unchanged context twice is observably idempotent.
	Save(c *AgentContext) error
	// Delete removes all snapshots for the given agents.
	Delete(agentIDs []string) error
	// List returns the latest snapshot of every agent matching the filter.
	List(filter ListFilter) ([]*AgentContext, error)
}
