// Package report records run outcomes: the aggregate stage's
// missing-sample manifest, the machine-readable run summary, and the
// status table printed at the end of a run.
package report

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seqlab/cappflow/internal/graph"
)

// AggregateManifest documents what the cross-sample aggregation
// actually saw: the metric files merged and the samples that never made
// it because an upstream task failed.
type AggregateManifest struct {
	GeneratedAt    time.Time `yaml:"generated_at"`
	Inputs         []string  `yaml:"inputs"`
	MissingSamples []string  `yaml:"missing_samples"`
}

// WriteAggregateManifest writes the manifest as YAML. GeneratedAt is
// stamped if the caller left it zero.
func WriteAggregateManifest(path string, m AggregateManifest) error {
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to encode aggregate manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write aggregate manifest: %w", err)
	}
	return nil
}

// TaskStatus is one row of the run summary.
type TaskStatus struct {
	ID      string `yaml:"id"`
	Stage   string `yaml:"stage"`
	Sample  string `yaml:"sample,omitempty"`
	State   string `yaml:"state"`
	Error   string `yaml:"error,omitempty"`
	Threads int    `yaml:"threads"`
}

// Summary is the machine-readable record of one run, written next to
// the aggregated report.
type Summary struct {
	RunID      string       `yaml:"run_id"`
	StartedAt  time.Time    `yaml:"started_at"`
	FinishedAt time.Time    `yaml:"finished_at"`
	Status     string       `yaml:"status"`
	Tasks      []TaskStatus `yaml:"tasks"`
}

// NewSummary captures the final state of every task in insertion order.
func NewSummary(runID string, tasks []*graph.Task, started, finished time.Time) *Summary {
	s := &Summary{
		RunID:      runID,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Status:     "succeeded",
	}
	for _, t := range tasks {
		row := TaskStatus{
			ID:      t.ID(),
			Stage:   t.Stage,
			Sample:  t.Sample,
			State:   t.State().String(),
			Threads: t.Threads,
		}
		if t.Err != nil {
			row.Error = t.Err.Error()
		}
		if t.State() == graph.Failed {
			s.Status = "failed"
		}
		s.Tasks = append(s.Tasks, row)
	}
	return s
}

// Write stores the summary as YAML at path.
func (s *Summary) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}

// PrintTable renders the per-task status table for terminal output.
func (s *Summary) PrintTable(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tDETAIL")
	for _, row := range s.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.ID, row.State, row.Error)
	}
	tw.Flush()
}
