// Package agent defines the execution adapter between the pipeline
// orchestrator and individual analysis units. The orchestrator treats every
// agent as a black box: a file map and parameters in, a structured outcome
// or an error out. The statistics inside an agent are not this package's
// concern.
package agent

import (
	"context"
)

// Result statuses recorded in the aggregate pipeline result.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome is what one agent execution produces. Output holds the bytes of
// the agent's artifact (persisted under outputs/ after the run); Transformed
// holds replacement bytes for the logical input a transforming agent
// rewrites, merged into the pipeline context for downstream agents.
type Outcome struct {
	Summary     map[string]any
	Output      []byte
	Transformed []byte
}

// Executor is an independent, stateless unit of analysis or transformation.
// Implementations must not retain or mutate the files map.
type Executor interface {
	Execute(ctx context.Context, files map[string][]byte, params map[string]any) (*Outcome, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, files map[string][]byte, params map[string]any) (*Outcome, error)

func (f Func) Execute(ctx context.Context, files map[string][]byte, params map[string]any) (*Outcome, error) {
	return f(ctx, files, params)
}

// Result is one agent's slot in the aggregate pipeline result. An agent
// failure is data here, never a pipeline abort.
type Result struct {
	AgentID string         `json:"agent_id"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Summary map[string]any `json:"summary,omitempty"`
	Output  string         `json:"output,omitempty"`
}
