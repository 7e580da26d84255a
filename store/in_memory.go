package store

import (
	"sort"
	"sync"

	"github.com/hupe1980/debatemesh/core"
)

// InMemoryStore is a volatile ContextStore implementation storing execution
// snapshots in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo setups. Each snapshot is cloned on both
// Save and Load to prevent external mutation of internal state.
type InMemoryStore struct {
	mu sync.RWMutex
	// executions holds every snapshot ever saved, so superseded branch
	// lineages stay addressable by execution id.
	executions map[string]map[string]*core.AgentContext
	// latest points at the current execution id per agent.
	latest map[string]string
}

// NewInMemoryStore constructs an empty in-memory context store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		executions: make(map[string]map[string]*core.AgentContext),
		latest:     make(map[string]string),
	}
}

// Load returns a clone of the latest snapshot for the agent.
func (s *InMemoryStore) Load(agentID string) (*core.AgentContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executionID, ok := s.latest[agentID]
	if !ok {
		return nil, core.ErrNotFound
	}

	return s.executions[agentID][executionID].Clone(), nil
}

// LoadExecution returns a clone of one specific execution snapshot.
func (s *InMemoryStore) LoadExecution(agentID, executionID string) (*core.AgentContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.executions[agentID][executionID]
	if !ok {
		return nil, core.ErrNotFound
	}

	return c.Clone(), nil
}

// Save stores a clone of the snapshot and marks it as the agent's latest.
func (s *InMemoryStore) Save(c *core.AgentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[c.AgentID]; !ok {
		s.executions[c.AgentID] = make(map[string]*core.AgentContext)
	}
	s.executions[c.AgentID][c.ExecutionID] = c.Clone()
	s.latest[c.AgentID] = c.ExecutionID

	return nil
}

// Delete removes all snapshots for the given agents. Unknown agents are
// ignored.
func (s *InMemoryStore) Delete(agentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range agentIDs {
		delete(s.executions, id)
		delete(s.latest, id)
	}

	return nil
}

// List returns clones of the latest snapshot of every agent matching the
// filter, ordered by agent id for deterministic output.
func (s *InMemoryStore) List(filter core.ListFilter) ([]*core.AgentContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agentIDs := make([]string, 0, len(s.latest))
	for agentID := range s.latest {
		agentIDs = append(agentIDs, agentID)
	}
	sort.Strings(agentIDs)

	var out []*core.AgentContext
	for _, agentID := range agentIDs {
		c := s.executions[agentID][s.latest[agentID]]
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}

	return out, nil
}
