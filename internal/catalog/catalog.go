// Package catalog holds the static tool and agent catalog. The catalog is
// loaded once at startup, validated, and then immutable; the registry is
// passed by dependency injection wherever tool or agent definitions are
// needed. There is no global catalog state.
package catalog

import (
	"errors"
	"fmt"
)

// Success policies decide whether a task with some failed agents still
// completes.
const (
	PolicyAny = "any" // at least one agent succeeded
	PolicyAll = "all" // every agent succeeded
)

var (
	ErrToolNotFound  = errors.New("tool not found in catalog")
	ErrAgentNotFound = errors.New("agent not found in catalog")
)

// AgentSpec describes one agent: its billing cost and whether its output
// replaces an input for downstream agents (a transforming agent).
type AgentSpec struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Credits      int64  `yaml:"credits"`
	Transforming bool   `yaml:"transforming"`
	// Output is the artifact name the agent writes under outputs/, empty if
	// the agent produces no artifact of its own.
	Output string `yaml:"output"`
	// Transforms is the logical input key a transforming agent replaces.
	Transforms string `yaml:"transforms"`
}

// InputSpec names one logical input file a tool consumes.
type InputSpec struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
}

// Tool is a named, ordered bundle of agents and their required input files.
type Tool struct {
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	Agents        []string    `yaml:"agents"`
	Inputs        []InputSpec `yaml:"inputs"`
	SuccessPolicy string      `yaml:"success_policy"`
}

// RequiredInputs returns the logical names of inputs that must exist before
// processing can start.
func (t Tool) RequiredInputs() []string {
	var names []string
	for _, in := range t.Inputs {
		if in.Required {
			names = append(names, in.Name)
		}
	}
	return names
}

// InputNames returns all logical input names, required and optional.
func (t Tool) InputNames() []string {
	names := make([]string, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		names = append(names, in.Name)
	}
	return names
}

// Registry is the immutable tool/agent catalog. Construct it once with
// NewRegistry and share it freely; lookups return copies.
type Registry struct {
	tools  map[string]Tool
	agents map[string]AgentSpec
}

// NewRegistry validates the catalog and builds the registry. Every agent a
// tool references must be declared; unknown references are a startup error,
// not a runtime one.
func NewRegistry(agents []AgentSpec, tools []Tool) (*Registry, error) {
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		agents: make(map[string]AgentSpec, len(agents)),
	}

	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %q: id is required", a.Name)
		}
		if a.Credits <= 0 {
			return nil, fmt.Errorf("agent %s: credits must be positive, got %d", a.ID, a.Credits)
		}
		if a.Transforming && a.Transforms == "" {
			return nil, fmt.Errorf("agent %s: transforming agents must name the input they transform", a.ID)
		}
		if _, dup := r.agents[a.ID]; dup {
			return nil, fmt.Errorf("agent %s: duplicate definition", a.ID)
		}
		r.agents[a.ID] = a
	}

	for _, t := range tools {
		if t.ID == "" {
			return nil, fmt.Errorf("tool %q: id is required", t.Name)
		}
		if len(t.Agents) == 0 {
			return nil, fmt.Errorf("tool %s: at least one agent is required", t.ID)
		}
		for _, agentID := range t.Agents {
			if _, ok := r.agents[agentID]; !ok {
				return nil, fmt.Errorf("tool %s: %w: %s", t.ID, ErrAgentNotFound, agentID)
			}
		}
		if t.SuccessPolicy == "" {
			t.SuccessPolicy = PolicyAny
		}
		switch t.SuccessPolicy {
		case PolicyAny, PolicyAll:
		default:
			return nil, fmt.Errorf("tool %s: success_policy must be any or all, got %q", t.ID, t.SuccessPolicy)
		}
		seen := make(map[string]bool, len(t.Inputs))
		for _, in := range t.Inputs {
			if in.Name == "" {
				return nil, fmt.Errorf("tool %s: input name is required", t.ID)
			}
			if seen[in.Name] {
				return nil, fmt.Errorf("tool %s: duplicate input %s", t.ID, in.Name)
			}
			seen[in.Name] = true
		}
		if _, dup := r.tools[t.ID]; dup {
			return nil, fmt.Errorf("tool %s: duplicate definition", t.ID)
		}
		r.tools[t.ID] = t
	}

	return r, nil
}

// Tool looks up a tool by id. The returned value is a copy; mutating it does
// not affect the registry.
func (r *Registry) Tool(id string) (Tool, error) {
	t, ok := r.tools[id]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	t.Agents = append([]string(nil), t.Agents...)
	t.Inputs = append([]InputSpec(nil), t.Inputs...)
	return t, nil
}

// Agent looks up an agent spec by id.
func (r *Registry) Agent(id string) (AgentSpec, error) {
	a, ok := r.agents[id]
	if !ok {
		return AgentSpec{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// AgentIDs returns every declared agent id. Order is unspecified.
func (r *Registry) AgentIDs() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
