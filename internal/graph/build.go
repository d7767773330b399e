package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/samplesheet"
	"github.com/seqlab/cappflow/internal/stage"
)

// outputKey addresses one produced artifact in the lookup table the
// builder links inputs through: which stage, which declared role, which
// sample instance.
type outputKey struct {
	Stage  string
	Role   string
	Sample string
}

// Build expands the ordered stage templates across the sample list into
// a complete, validated task/artifact graph. outputDir anchors all
// relative output templates; budget is the global thread budget, used
// only to clamp oversized per-stage requests so they stay schedulable.
//
// Fatal build errors: duplicate (stage, sample) key, overlapping output
// paths, unresolved input reference, missing external input file,
// thread request below 1, and any dependency cycle.
func Build(ctx context.Context, stages []stage.Stage, samples []samplesheet.Sample, outputDir string, budget int) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting graph construction.", "stages", len(stages), "samples", len(samples))

	g := &Graph{
		Artifacts: make(map[string]*Artifact),
		byKey:     make(map[string]*Task),
	}
	outputs := make(map[outputKey]*Artifact)

	// First pass: instantiate tasks and their output artifacts.
	for _, s := range stages {
		if s.Threads < 1 {
			return nil, fmt.Errorf("stage %q requests %d threads, need at least 1", s.Name, s.Threads)
		}
		threads := s.Threads
		if budget > 0 && threads > budget {
			logger.Warn("Clamping stage thread request to run budget.",
				"stage", s.Name, "requested", threads, "budget", budget)
			threads = budget
		}

		instances := []string{""}
		if s.PerSample {
			instances = instances[:0]
			for _, sm := range samples {
				instances = append(instances, sm.ID)
			}
		}

		for _, sampleID := range instances {
			task := &Task{
				Stage:     s.Name,
				Sample:    sampleID,
				Aggregate: !s.PerSample,
				Threads:   threads,
				Action:    s.Action,
				Index:     len(g.Tasks),
			}
			if _, dup := g.byKey[task.ID()]; dup {
				return nil, fmt.Errorf("duplicate task key %q: stage names must be unique per sample", task.ID())
			}

			for _, out := range s.Outputs {
				path := filepath.Join(outputDir, out.Path(sampleID))
				if prev, taken := g.Artifacts[path]; taken {
					return nil, fmt.Errorf("overlapping output path %q declared by tasks %q and %q",
						path, prev.Producer.ID(), task.ID())
				}
				art := &Artifact{
					Path:      path,
					Producer:  task,
					Temporary: out.Temporary,
					Sample:    sampleID,
				}
				g.Artifacts[path] = art
				outputs[outputKey{Stage: s.Name, Role: out.Role, Sample: sampleID}] = art
				task.Outputs = append(task.Outputs, Binding{Role: out.Role, Artifact: art})
			}

			g.byKey[task.ID()] = task
			g.Tasks = append(g.Tasks, task)
		}
	}

	// Second pass: link inputs through the output table.
	sampleByID := make(map[string]samplesheet.Sample, len(samples))
	for _, sm := range samples {
		sampleByID[sm.ID] = sm
	}
	for _, s := range stages {
		for _, task := range tasksOfStage(g, s.Name) {
			for _, ref := range s.Inputs {
				if err := linkInput(g, outputs, sampleByID, samples, task, ref); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, fmt.Errorf("invalid stage graph: %w", err)
	}

	logger.Debug("Graph construction complete.",
		"tasks", len(g.Tasks), "artifacts", len(g.Artifacts))
	return g, nil
}

func tasksOfStage(g *Graph, name string) []*Task {
	var tasks []*Task
	for _, t := range g.Tasks {
		if t.Stage == name {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// linkInput resolves one InputRef of one task and wires the artifact
// edge in both directions.
func linkInput(g *Graph, outputs map[outputKey]*Artifact, sampleByID map[string]samplesheet.Sample, samples []samplesheet.Sample, task *Task, ref stage.InputRef) error {
	if ref.Stage == stage.RawReads {
		sm, ok := sampleByID[task.Sample]
		if !ok {
			return fmt.Errorf("task %q references raw reads but has no sample", task.ID())
		}
		var path string
		switch ref.Role {
		case stage.RoleRead1:
			path = sm.Read1
		case stage.RoleRead2:
			path = sm.Read2
		default:
			return fmt.Errorf("task %q references unknown raw read role %q", task.ID(), ref.Role)
		}
		art, err := externalArtifact(g, path, sm.ID)
		if err != nil {
			return err
		}
		attach(task, ref.Role, art)
		return nil
	}

	if ref.AllSamples {
		if !task.Aggregate {
			return fmt.Errorf("task %q fans in %s.%s across samples but is not an aggregate task",
				task.ID(), ref.Stage, ref.Role)
		}
		for _, sm := range samples {
			art, ok := outputs[outputKey{Stage: ref.Stage, Role: ref.Role, Sample: sm.ID}]
			if !ok {
				return fmt.Errorf("task %q references unresolved output %s.%s for sample %q",
					task.ID(), ref.Stage, ref.Role, sm.ID)
			}
			attach(task, ref.Role, art)
		}
		return nil
	}

	art, ok := outputs[outputKey{Stage: ref.Stage, Role: ref.Role, Sample: task.Sample}]
	if !ok {
		return fmt.Errorf("task %q references unresolved output %s.%s", task.ID(), ref.Stage, ref.Role)
	}
	attach(task, ref.Role, art)
	return nil
}

// externalArtifact returns the producer-less artifact for a raw input
// file, creating and stat-validating it on first reference.
func externalArtifact(g *Graph, path, sampleID string) (*Artifact, error) {
	if art, ok := g.Artifacts[path]; ok {
		if art.Producer != nil {
			return nil, fmt.Errorf("external input %q collides with an output of task %q", path, art.Producer.ID())
		}
		return art, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("external input %q does not exist", path)
	}
	art := &Artifact{Path: path, Sample: sampleID}
	g.Artifacts[path] = art
	return art, nil
}

func attach(task *Task, role string, art *Artifact) {
	task.Inputs = append(task.Inputs, Binding{Role: role, Artifact: art})
	art.Consumers = append(art.Consumers, task)
}
