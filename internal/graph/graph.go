// Package graph builds and models the task/artifact dependency graph of
// a pipeline run. Tasks and file artifacts form a bipartite DAG: a task
// produces artifacts, artifacts feed consumer tasks. Construction is
// pure — the filesystem is touched only to validate externally supplied
// input files.
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/seqlab/cappflow/internal/stage"
)

// State is the lifecycle position of a task in the run-state table.
type State int32

const (
	// Pending tasks are waiting for upstream producers.
	Pending State = iota
	// Ready tasks have every input satisfied and await dispatch.
	Ready
	// Running tasks have a live action.
	Running
	// Succeeded is terminal: the action exited cleanly.
	Succeeded
	// Failed is terminal: the action reported an error.
	Failed
	// Skipped is terminal: every output was already fresh, the action
	// never ran.
	Skipped
	// SkippedFailed is terminal: an upstream task failed, so this task's
	// inputs can never be produced.
	SkippedFailed
	// SkippedAborted is terminal: the run was cancelled before dispatch.
	SkippedAborted
)

// String returns the status-table label for the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case SkippedFailed:
		return "skipped-failed"
	case SkippedAborted:
		return "skipped-aborted"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, SkippedFailed, SkippedAborted:
		return true
	}
	return false
}

// Completed reports whether the task's outputs are usable downstream:
// it either ran to success or was skipped because they were already fresh.
func (s State) Completed() bool {
	return s == Succeeded || s == Skipped
}

// Artifact is one file in the dependency graph. A nil Producer marks an
// externally supplied input that must pre-exist on disk.
type Artifact struct {
	Path      string
	Producer  *Task
	Consumers []*Task
	Temporary bool
	// Sample is the owning sample id, empty for external and aggregate
	// artifacts. Aggregators use it to name missing contributions.
	Sample string
}

// Binding attaches a role name to an artifact on one side of a task.
type Binding struct {
	Role     string
	Artifact *Artifact
}

// Task is an immutable unit of work, uniquely keyed by (Stage, Sample).
// Aggregate tasks have an empty Sample. The state field is the only
// mutable part; the executor serializes transitions, the atomic lets
// observers read concurrently.
type Task struct {
	Stage     string
	Sample    string
	Aggregate bool
	Threads   int
	Inputs    []Binding
	Outputs   []Binding
	Action    stage.Action
	// Index is the topological insertion order, used as the
	// deterministic dispatch tie-break.
	Index int

	state atomic.Int32
	// Err records why a Failed or SkippedFailed task ended that way.
	Err error
}

// ID is the unique task key, "stage:sample" or just the stage name for
// aggregate tasks.
func (t *Task) ID() string {
	if t.Sample == "" {
		return t.Stage
	}
	return t.Stage + ":" + t.Sample
}

// State loads the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// SetState stores a new lifecycle state. Callers are responsible for
// transition legality; the executor is the only writer during a run.
func (t *Task) SetState(s State) {
	t.state.Store(int32(s))
}

// Producers returns the distinct upstream tasks feeding this task, in
// input order.
func (t *Task) Producers() []*Task {
	seen := make(map[*Task]bool, len(t.Inputs))
	var producers []*Task
	for _, in := range t.Inputs {
		p := in.Artifact.Producer
		if p == nil || seen[p] {
			continue
		}
		seen[p] = true
		producers = append(producers, p)
	}
	return producers
}

// Consumers returns the distinct downstream tasks reading any output of
// this task, in output order.
func (t *Task) Consumers() []*Task {
	seen := make(map[*Task]bool)
	var consumers []*Task
	for _, out := range t.Outputs {
		for _, c := range out.Artifact.Consumers {
			if seen[c] {
				continue
			}
			seen[c] = true
			consumers = append(consumers, c)
		}
	}
	return consumers
}

// Graph is the complete, validated task/artifact DAG for one run.
type Graph struct {
	// Tasks in insertion order: per-sample stages in declaration order
	// crossed with sheet order, then aggregate stages.
	Tasks []*Task
	// Artifacts keyed by absolute output path.
	Artifacts map[string]*Artifact

	byKey map[string]*Task
}

// Lookup returns the task with the given (stage, sample) key, or nil.
// Aggregate tasks are keyed by stage name alone; pass an empty sample.
func (g *Graph) Lookup(stageName, sampleID string) *Task {
	if sampleID == "" {
		return g.byKey[stageName]
	}
	return g.byKey[stageName+":"+sampleID]
}

// Downstream returns every task reachable from t through the artifact
// graph, not including t itself.
func (g *Graph) Downstream(t *Task) []*Task {
	var reachable []*Task
	seen := map[*Task]bool{t: true}
	frontier := []*Task{t}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, c := range next.Consumers() {
			if seen[c] {
				continue
			}
			seen[c] = true
			reachable = append(reachable, c)
			frontier = append(frontier, c)
		}
	}
	return reachable
}

// detectCycles runs a three-color depth-first search over the task
// graph. Any back edge is a fatal configuration error.
func (g *Graph) detectCycles() error {
	permanent := make(map[*Task]bool)
	temporary := make(map[*Task]bool)

	var visit func(t *Task) error
	visit = func(t *Task) error {
		if permanent[t] {
			return nil
		}
		if temporary[t] {
			return fmt.Errorf("cycle detected involving task %q", t.ID())
		}
		temporary[t] = true
		for _, c := range t.Consumers() {
			if err := visit(c); err != nil {
				return err
			}
		}
		delete(temporary, t)
		permanent[t] = true
		return nil
	}

	for _, t := range g.Tasks {
		if !permanent[t] {
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}
