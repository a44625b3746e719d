package agent_test

import (
	"context"
	"testing"

	"github.com/probelab/dataprobe/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop() agent.Executor {
	return agent.Func(func(ctx context.Context, files map[string][]byte, params map[string]any) (*agent.Outcome, error) {
		return &agent.Outcome{}, nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("profiler", noop())

	e, err := reg.Lookup("profiler")
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRegistry_UnknownAgent(t *testing.T) {
	reg := agent.NewRegistry()

	_, err := reg.Lookup("ghost")
	assert.ErrorIs(t, err, agent.ErrUnknownAgent)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("profiler", noop())

	assert.Panics(t, func() {
		reg.Register("profiler", noop())
	})
}

func TestRegistry_Verify(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("profiler", noop())
	reg.Register("cleaner", noop())

	require.NoError(t, reg.Verify([]string{"profiler", "cleaner"}))

	err := reg.Verify([]string{"profiler", "drift"})
	assert.ErrorIs(t, err, agent.ErrUnknownAgent)
}

func TestBlankLineScrubber_Transforms(t *testing.T) {
	e := agent.NewBlankLineScrubber()
	files := map[string][]byte{"primary": []byte("a\n\nb\n  \nc")}

	out, err := e.Execute(context.Background(), files, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\nb\nc"), out.Transformed)
	assert.Equal(t, 2, out.Summary["removed_lines"])
}

func TestProfiler_Summary(t *testing.T) {
	e := agent.NewProfiler()
	files := map[string][]byte{"primary": []byte("x\ny\n")}

	out, err := e.Execute(context.Background(), files, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Summary["bytes"])
	assert.Equal(t, 2, out.Summary["lines"])
	assert.Nil(t, out.Transformed, "profiler never mutates the context")
}

func TestProfiler_MissingInput(t *testing.T) {
	e := agent.NewProfiler()

	_, err := e.Execute(context.Background(), map[string][]byte{}, nil)
	require.Error(t, err)
}
