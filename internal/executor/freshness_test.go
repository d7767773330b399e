package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/cappflow/internal/graph"
)

// fileTask builds a standalone task over real files for checker tests.
func fileTask(inputs []graph.Binding, outputs []graph.Binding) *graph.Task {
	return &graph.Task{Stage: "t", Sample: "S1", Inputs: inputs, Outputs: outputs}
}

func touch(t *testing.T, dir, name string, mtime time.Time) graph.Binding {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return graph.Binding{Role: name, Artifact: &graph.Artifact{Path: path}}
}

func TestMTimeChecker(t *testing.T) {
	checker := MTimeChecker{}
	base := time.Now().Add(-time.Hour)

	t.Run("fresh when outputs are newer than inputs", func(t *testing.T) {
		dir := t.TempDir()
		in := touch(t, dir, "in", base)
		out := touch(t, dir, "out", base.Add(time.Minute))
		fresh, err := checker.IsFresh(fileTask([]graph.Binding{in}, []graph.Binding{out}))
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("stale when an input is newer than an output", func(t *testing.T) {
		dir := t.TempDir()
		in := touch(t, dir, "in", base.Add(2*time.Minute))
		out := touch(t, dir, "out", base.Add(time.Minute))
		fresh, err := checker.IsFresh(fileTask([]graph.Binding{in}, []graph.Binding{out}))
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("stale when any output is missing", func(t *testing.T) {
		dir := t.TempDir()
		in := touch(t, dir, "in", base)
		out := touch(t, dir, "out", base.Add(time.Minute))
		missing := graph.Binding{Role: "m", Artifact: &graph.Artifact{Path: filepath.Join(dir, "absent")}}
		fresh, err := checker.IsFresh(fileTask([]graph.Binding{in}, []graph.Binding{out, missing}))
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("stale when a required input is missing", func(t *testing.T) {
		dir := t.TempDir()
		out := touch(t, dir, "out", base.Add(time.Minute))
		gone := graph.Binding{Role: "in", Artifact: &graph.Artifact{Path: filepath.Join(dir, "gone")}}
		fresh, err := checker.IsFresh(fileTask([]graph.Binding{gone}, []graph.Binding{out}))
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("missing temporary input does not spoil freshness", func(t *testing.T) {
		dir := t.TempDir()
		out := touch(t, dir, "out", base.Add(time.Minute))
		released := graph.Binding{Role: "in", Artifact: &graph.Artifact{
			Path:      filepath.Join(dir, "released"),
			Temporary: true,
		}}
		fresh, err := checker.IsFresh(fileTask([]graph.Binding{released}, []graph.Binding{out}))
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("task with no outputs never counts as fresh", func(t *testing.T) {
		fresh, err := checker.IsFresh(fileTask(nil, nil))
		require.NoError(t, err)
		assert.False(t, fresh)
	})
}
