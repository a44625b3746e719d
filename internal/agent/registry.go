package agent

import (
	"errors"
	"fmt"
)

var ErrUnknownAgent = errors.New("no executor registered for agent")

// Registry is the closed dispatch table mapping agent identifiers to their
// executors. It is populated at startup and read-only afterwards; an agent
// id in the catalog with no executor is a startup error, not a runtime
// string mismatch.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under an agent id. Duplicate registration is a
// programming error.
func (r *Registry) Register(agentID string, e Executor) {
	if _, exists := r.executors[agentID]; exists {
		panic(fmt.Sprintf("agent: duplicate registration for %q", agentID))
	}
	r.executors[agentID] = e
}

// Lookup returns the executor for an agent id.
func (r *Registry) Lookup(agentID string) (Executor, error) {
	e, ok := r.executors[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return e, nil
}

// Verify checks that every given agent id has an executor. Called once at
// startup against the catalog.
func (r *Registry) Verify(agentIDs []string) error {
	for _, id := range agentIDs {
		if _, ok := r.executors[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
		}
	}
	return nil
}
