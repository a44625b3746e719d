package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Builtin executors. These are deliberately thin: the real analysis content
// of an agent lives outside the orchestration engine, and these exist so the
// binary runs end-to-end against the default catalog.

// RegisterBuiltins wires the builtin executors under the agent ids the
// default catalog declares.
func RegisterBuiltins(r *Registry) {
	r.Register("profiler", NewProfiler())
	r.Register("blank-line-scrubber", NewBlankLineScrubber())
}

// NewProfiler returns an executor that reports basic shape statistics about
// the primary input.
func NewProfiler() Executor {
	return Func(func(ctx context.Context, files map[string][]byte, params map[string]any) (*Outcome, error) {
		primary, ok := files["primary"]
		if !ok {
			return nil, fmt.Errorf("profiler: missing primary input")
		}

		lines := bytes.Count(primary, []byte("\n"))
		summary := map[string]any{
			"bytes": len(primary),
			"lines": lines,
		}
		out, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("profiler: encode summary: %w", err)
		}
		return &Outcome{Summary: summary, Output: out}, nil
	})
}

// NewBlankLineScrubber returns a transforming executor that drops empty lines
// from the primary input. Downstream agents see the scrubbed bytes.
func NewBlankLineScrubber() Executor {
	return Func(func(ctx context.Context, files map[string][]byte, params map[string]any) (*Outcome, error) {
		primary, ok := files["primary"]
		if !ok {
			return nil, fmt.Errorf("scrubber: missing primary input")
		}

		var cleaned [][]byte
		removed := 0
		for _, line := range bytes.Split(primary, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				removed++
				continue
			}
			cleaned = append(cleaned, line)
		}
		out := bytes.Join(cleaned, []byte("\n"))

		return &Outcome{
			Summary:     map[string]any{"removed_lines": removed},
			Output:      out,
			Transformed: out,
		}, nil
	})
}
