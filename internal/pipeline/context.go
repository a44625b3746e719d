package pipeline

import (
	"github.com/probelab/dataprobe/internal/agent"
	"github.com/probelab/dataprobe/internal/catalog"
)

// Context is the transient in-memory state threaded through one orchestration
// run: the ordered agent list, the live map of logical file keys to byte
// content, and the run parameters. It is never persisted — it is rebuilt from
// the object store and the task store on every invocation, which is what
// makes a run resumable after a process restart.
type Context struct {
	Agents []string
	Files  map[string][]byte
	Params map[string]any
}

// applyTransform merges a transforming agent's output back into the context
// under the logical key it rewrites, so the next agent in the list sees the
// transformed data. Analytical agents and failed executions leave the
// context untouched.
func applyTransform(pc *Context, spec catalog.AgentSpec, outcome *agent.Outcome) {
	if !spec.Transforming || outcome == nil || outcome.Transformed == nil {
		return
	}
	pc.Files[spec.Transforms] = outcome.Transformed
}
