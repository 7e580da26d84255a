package model

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps participant names to Model implementations. It replaces the
// usual process-global provider map with an owned, explicitly-lifetimed
// dependency: construct one at startup and pass it by reference into the
// router. Safe for concurrent access.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register binds a name to a model. Re-registering an existing name is an
// error; construct a fresh registry instead of mutating a live one.
func (r *Registry) Register(name string, m Model) error {
	if name == "" {
		return fmt.Errorf("model name is required")
	}
	if m == nil {
		return fmt.Errorf("model %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		return fmt.Errorf("model already registered: %s", name)
	}
	r.models[name] = m

	return nil
}

// Get returns the model bound to name.
func (r *Registry) Get(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model not registered: %s", name)
	}

	return m, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.models)
}
