package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/cappflow/internal/samplesheet"
	"github.com/seqlab/cappflow/internal/stage"
)

var noop = stage.ActionFunc(func(ctx context.Context, req *stage.Request) error { return nil })

// testSamples creates n samples with real read files so raw-read
// references pass build validation.
func testSamples(t *testing.T, ids ...string) []samplesheet.Sample {
	t.Helper()
	dir := t.TempDir()
	var samples []samplesheet.Sample
	for _, id := range ids {
		r1 := filepath.Join(dir, id+"_R1.fq.gz")
		r2 := filepath.Join(dir, id+"_R2.fq.gz")
		require.NoError(t, os.WriteFile(r1, []byte("@r\n"), 0o644))
		require.NoError(t, os.WriteFile(r2, []byte("@r\n"), 0o644))
		samples = append(samples, samplesheet.Sample{ID: id, Read1: r1, Read2: r2})
	}
	return samples
}

// chain returns a two-stage per-sample pipeline plus one aggregate
// stage fanning in the second stage's output.
func chain() []stage.Stage {
	return []stage.Stage{
		{
			Name: "first", PerSample: true, Threads: 1,
			Inputs: []stage.InputRef{
				{Stage: stage.RawReads, Role: stage.RoleRead1},
				{Stage: stage.RawReads, Role: stage.RoleRead2},
			},
			Outputs: []stage.Output{{Role: "out", Template: "01/{sample}.a"}},
			Action:  noop,
		},
		{
			Name: "second", PerSample: true, Threads: 1,
			Inputs:  []stage.InputRef{{Stage: "first", Role: "out"}},
			Outputs: []stage.Output{{Role: "out", Template: "02/{sample}.b"}},
			Action:  noop,
		},
		{
			Name: "summary", Threads: 1,
			Inputs:  []stage.InputRef{{Stage: "second", Role: "out", AllSamples: true}},
			Outputs: []stage.Output{{Role: "out", Template: "03/summary.txt"}},
			Action:  noop,
		},
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("expands one chain per sample plus one aggregate task", func(t *testing.T) {
		samples := testSamples(t, "S1", "S2", "S3")
		g, err := Build(ctx, chain(), samples, t.TempDir(), 4)
		require.NoError(t, err)

		// 3 samples x 2 per-sample stages + 1 aggregate.
		require.Len(t, g.Tasks, 7)
		for _, id := range []string{"S1", "S2", "S3"} {
			first := g.Lookup("first", id)
			second := g.Lookup("second", id)
			require.NotNil(t, first)
			require.NotNil(t, second)
			assert.Equal(t, []*Task{first}, second.Producers())
		}
		agg := g.Lookup("summary", "")
		require.NotNil(t, agg)
		assert.True(t, agg.Aggregate)
		assert.Len(t, agg.Producers(), 3)
		assert.Len(t, agg.Inputs, 3)
	})

	t.Run("unresolved input reference", func(t *testing.T) {
		stages := chain()
		stages[1].Inputs = []stage.InputRef{{Stage: "first", Role: "nope"}}
		_, err := Build(ctx, stages, testSamples(t, "S1"), t.TempDir(), 4)
		assert.ErrorContains(t, err, "unresolved output first.nope")
	})

	t.Run("duplicate stage name makes a duplicate task key", func(t *testing.T) {
		stages := chain()
		dup := stages[0]
		dup.Outputs = []stage.Output{{Role: "out", Template: "01dup/{sample}.a"}}
		stages = append(stages, dup)
		_, err := Build(ctx, stages, testSamples(t, "S1"), t.TempDir(), 4)
		assert.ErrorContains(t, err, "duplicate task key")
	})

	t.Run("overlapping output paths across samples", func(t *testing.T) {
		stages := chain()
		// Template without {sample} collides for every sample.
		stages[0].Outputs = []stage.Output{{Role: "out", Template: "01/same.a"}}
		_, err := Build(ctx, stages, testSamples(t, "S1", "S2"), t.TempDir(), 4)
		assert.ErrorContains(t, err, "overlapping output path")
	})

	t.Run("cycle is rejected with no tasks built", func(t *testing.T) {
		stages := []stage.Stage{
			{
				Name: "a", PerSample: true, Threads: 1,
				Inputs:  []stage.InputRef{{Stage: "b", Role: "out"}},
				Outputs: []stage.Output{{Role: "out", Template: "a/{sample}"}},
				Action:  noop,
			},
			{
				Name: "b", PerSample: true, Threads: 1,
				Inputs:  []stage.InputRef{{Stage: "a", Role: "out"}},
				Outputs: []stage.Output{{Role: "out", Template: "b/{sample}"}},
				Action:  noop,
			},
		}
		_, err := Build(ctx, stages, testSamples(t, "S1"), t.TempDir(), 4)
		require.Error(t, err)
		assert.ErrorContains(t, err, "cycle detected")
	})

	t.Run("missing external input", func(t *testing.T) {
		samples := []samplesheet.Sample{{ID: "S1", Read1: "/nonexistent/r1", Read2: "/nonexistent/r2"}}
		_, err := Build(ctx, chain(), samples, t.TempDir(), 4)
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("thread request above budget is clamped", func(t *testing.T) {
		stages := chain()
		stages[1].Threads = 16
		g, err := Build(ctx, stages, testSamples(t, "S1"), t.TempDir(), 4)
		require.NoError(t, err)
		assert.Equal(t, 4, g.Lookup("second", "S1").Threads)
	})

	t.Run("thread request below one is rejected", func(t *testing.T) {
		stages := chain()
		stages[0].Threads = 0
		_, err := Build(ctx, stages, testSamples(t, "S1"), t.TempDir(), 4)
		assert.ErrorContains(t, err, "need at least 1")
	})

	t.Run("fan-in on a per-sample task is rejected", func(t *testing.T) {
		stages := chain()
		stages[1].Inputs = []stage.InputRef{{Stage: "first", Role: "out", AllSamples: true}}
		_, err := Build(ctx, stages, testSamples(t, "S1"), t.TempDir(), 4)
		assert.ErrorContains(t, err, "not an aggregate task")
	})
}

func TestGraphLookup(t *testing.T) {
	samples := testSamples(t, "S1")
	g, err := Build(context.Background(), chain(), samples, t.TempDir(), 4)
	require.NoError(t, err)

	t.Run("per-sample key", func(t *testing.T) {
		task := g.Lookup("first", "S1")
		require.NotNil(t, task)
		assert.Equal(t, "first:S1", task.ID())
	})

	t.Run("aggregate key is the bare stage name", func(t *testing.T) {
		agg := g.Lookup("summary", "")
		require.NotNil(t, agg)
		assert.Equal(t, "summary", agg.ID())
		assert.True(t, agg.Aggregate)
	})

	t.Run("unknown keys", func(t *testing.T) {
		assert.Nil(t, g.Lookup("first", "S9"))
		assert.Nil(t, g.Lookup("nope", ""))
	})
}

func TestGraphDownstream(t *testing.T) {
	samples := testSamples(t, "S1", "S2")
	g, err := Build(context.Background(), chain(), samples, t.TempDir(), 4)
	require.NoError(t, err)

	down := g.Downstream(g.Lookup("first", "S1"))
	ids := make(map[string]bool)
	for _, d := range down {
		ids[d.ID()] = true
	}
	assert.True(t, ids["second:S1"])
	assert.True(t, ids["summary"])
	assert.False(t, ids["second:S2"], "other samples are not downstream")
}

func TestStateLabels(t *testing.T) {
	assert.Equal(t, "skipped-failed", SkippedFailed.String())
	assert.True(t, Skipped.Terminal())
	assert.True(t, Skipped.Completed())
	assert.False(t, SkippedFailed.Completed())
	assert.False(t, Running.Terminal())
}
