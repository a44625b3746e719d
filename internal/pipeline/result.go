package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/dataprobe/internal/agent"
	"github.com/probelab/dataprobe/internal/catalog"
)

// reportArtifact is the consolidated report written to outputs/ after every
// run, successful or not.
const reportArtifact = "report.json"

// Aggregate is the one result produced by a pipeline run: one slot per agent
// in execution order. Individual agent failures live here as data.
type Aggregate struct {
	TaskID     uuid.UUID      `json:"task_id"`
	ToolID     string         `json:"tool_id"`
	Results    []agent.Result `json:"results"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Succeeded counts agents that completed without error.
func (a *Aggregate) Succeeded() int {
	n := 0
	for _, r := range a.Results {
		if r.Status == agent.StatusSuccess {
			n++
		}
	}
	return n
}

// PolicyMet applies the tool's success policy to the aggregate.
func (a *Aggregate) PolicyMet(policy string) bool {
	switch policy {
	case catalog.PolicyAll:
		return a.Succeeded() == len(a.Results)
	default:
		return a.Succeeded() > 0
	}
}

// Report serializes the aggregate for the consolidated report artifact.
func (a *Aggregate) Report() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}
