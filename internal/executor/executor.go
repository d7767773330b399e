// Package executor runs a task graph to completion under a global
// thread budget. All run-state mutation happens on a single dispatcher
// goroutine fed by a completion channel, so a task's state transition
// and the readiness recomputation of its consumers are atomic with
// respect to every other transition; task states themselves are atomics
// so observers may read them concurrently.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/graph"
	"github.com/seqlab/cappflow/internal/stage"
)

// Observer is notified after every task state transition. It must be
// fast; it runs on the dispatcher goroutine.
type Observer func(t *graph.Task)

// Options configures a run.
type Options struct {
	// Budget is the total thread budget shared by all running tasks.
	Budget int
	// Checker decides output freshness; nil means mtime comparison.
	Checker Checker
	// Observer, when set, receives every state transition.
	Observer Observer
}

// Result is the outcome of a run: the per-task status table plus the
// overall verdict.
type Result struct {
	Tasks []*graph.Task
}

// Failed reports whether any task ended in the Failed state.
func (r *Result) Failed() bool {
	for _, t := range r.Tasks {
		if t.State() == graph.Failed {
			return true
		}
	}
	return false
}

// Executor dispatches the tasks of one graph. It is single-use.
type Executor struct {
	graph    *graph.Graph
	budget   int
	checker  Checker
	observer Observer

	// Dispatcher-goroutine state. Never touched concurrently.
	free    int
	running int
	waiting map[*graph.Task]int
	ready   []*graph.Task
	done    chan completion
	aborted bool
}

type completion struct {
	task *graph.Task
	err  error
}

// New creates an executor for the graph. Budget must cover the largest
// single thread request; Run fails fast on a task that can never fit
// instead of waiting forever.
func New(g *graph.Graph, opts Options) *Executor {
	checker := opts.Checker
	if checker == nil {
		checker = MTimeChecker{}
	}
	return &Executor{
		graph:    g,
		budget:   opts.Budget,
		checker:  checker,
		observer: opts.Observer,
		free:     opts.Budget,
		waiting:  make(map[*graph.Task]int),
		done:     make(chan completion),
	}
}

// Run executes the graph until every task is terminal or ctx is
// cancelled. On cancellation, running tasks receive the context's
// cancellation and are drained before Run returns; undispatched tasks
// end SkippedAborted. The returned error carries the root-cause task
// failures; the Result always holds the full status table.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Executor starting.", "tasks", len(e.graph.Tasks), "budget", e.budget)

	for _, t := range e.graph.Tasks {
		producers := t.Producers()
		if len(producers) == 0 {
			e.markReady(ctx, t)
		} else {
			e.waiting[t] = len(producers)
		}
	}

	for {
		e.dispatch(ctx)
		if e.running == 0 && (len(e.ready) == 0 || e.aborted) {
			break
		}
		// With nothing running the whole budget is free, so a ready
		// task dispatch left behind can never fit. Fail instead of
		// waiting for a completion that will never come.
		if e.running == 0 && ctx.Err() == nil {
			t := e.ready[0]
			return &Result{Tasks: e.graph.Tasks},
				fmt.Errorf("task %q requests %d threads but the run budget is %d", t.ID(), t.Threads, e.budget)
		}

		select {
		case c := <-e.done:
			e.complete(ctx, c)
		case <-ctx.Done():
			e.checkAbort(ctx)
			// Drain in-flight tasks so no process is orphaned.
			for e.running > 0 {
				e.complete(ctx, <-e.done)
			}
		}
	}

	result := &Result{Tasks: e.graph.Tasks}
	if e.aborted {
		return result, context.Cause(ctx)
	}
	return result, e.rootCause()
}

// dispatch repeatedly picks the ready task with the smallest thread
// request that fits the free budget, tie-broken by insertion order, and
// launches it. Each round rescans the full ready set, so a small task
// arriving late can never be starved behind larger queued ones.
func (e *Executor) dispatch(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		pick := -1
		for i, t := range e.ready {
			if t.Threads > e.free {
				continue
			}
			if pick < 0 || t.Threads < e.ready[pick].Threads ||
				(t.Threads == e.ready[pick].Threads && t.Index < e.ready[pick].Index) {
				pick = i
			}
		}
		if pick < 0 {
			return
		}
		t := e.ready[pick]
		e.ready = append(e.ready[:pick], e.ready[pick+1:]...)

		fresh, err := e.checker.IsFresh(t)
		if err != nil {
			logger.Warn("Freshness check failed, task will run.", "task", t.ID(), "error", err)
		}
		if fresh {
			logger.Info("Outputs are fresh, skipping task.", "task", t.ID())
			e.transition(t, graph.Skipped)
			e.onTerminal(ctx, t)
			continue
		}

		e.free -= t.Threads
		e.running++
		e.transition(t, graph.Running)
		logger.Info("Dispatching task.", "task", t.ID(), "threads", t.Threads, "free", e.free)

		req := e.request(t)
		go func(t *graph.Task, req *stage.Request) {
			e.done <- completion{task: t, err: t.Action.Run(ctx, req)}
		}(t, req)
	}
}

// checkAbort marks undispatched tasks SkippedAborted exactly once after
// cancellation. It runs before any completion is processed, so a task
// that died because of the abort never cascades SkippedFailed onto
// tasks the abort already claimed.
func (e *Executor) checkAbort(ctx context.Context) {
	if ctx.Err() == nil || e.aborted {
		return
	}
	e.aborted = true
	e.abort(ctx)
}

// complete processes one finished task and propagates the consequences.
func (e *Executor) complete(ctx context.Context, c completion) {
	logger := ctxlog.FromContext(ctx)
	e.checkAbort(ctx)
	e.running--
	e.free += c.task.Threads

	if c.err != nil {
		c.task.Err = c.err
		e.transition(c.task, graph.Failed)
		logger.Error("Task failed.", "task", c.task.ID(), "error", c.err)
	} else {
		e.transition(c.task, graph.Succeeded)
		logger.Info("Task succeeded.", "task", c.task.ID())
	}
	e.onTerminal(ctx, c.task)
}

// onTerminal recomputes consumer readiness after t reached a terminal
// state, isolates failures to the downstream subtree, and releases
// temporary artifacts whose consumers are all terminal.
func (e *Executor) onTerminal(ctx context.Context, t *graph.Task) {
	for _, c := range t.Consumers() {
		if c.State() != graph.Pending {
			continue
		}
		if !t.State().Completed() && !c.Aggregate {
			// The consumer's inputs can never be produced.
			c.Err = fmt.Errorf("skipped due to upstream failure of %q", t.ID())
			delete(e.waiting, c)
			e.transition(c, graph.SkippedFailed)
			e.onTerminal(ctx, c)
			continue
		}
		e.waiting[c]--
		if e.waiting[c] > 0 {
			continue
		}
		delete(e.waiting, c)
		if c.Aggregate && !e.anyContribution(c) {
			c.Err = errors.New("skipped: no per-sample contribution survived")
			e.transition(c, graph.SkippedFailed)
			e.onTerminal(ctx, c)
			continue
		}
		e.markReady(ctx, c)
	}
	e.releaseTemporaries(ctx, t)
}

func (e *Executor) markReady(ctx context.Context, t *graph.Task) {
	e.transition(t, graph.Ready)
	e.ready = append(e.ready, t)
	ctxlog.FromContext(ctx).Debug("Task is ready.", "task", t.ID())
}

// abort marks every undispatched task SkippedAborted. Running tasks are
// left to the drain loop in Run.
func (e *Executor) abort(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Warn("Run aborted, skipping undispatched tasks.")
	e.ready = nil
	for _, t := range e.graph.Tasks {
		switch t.State() {
		case graph.Pending, graph.Ready:
			t.Err = context.Cause(ctx)
			delete(e.waiting, t)
			e.transition(t, graph.SkippedAborted)
		}
	}
}

// anyContribution reports whether at least one per-sample producer of
// an aggregate task completed, so partial aggregation is meaningful.
func (e *Executor) anyContribution(t *graph.Task) bool {
	for _, p := range t.Producers() {
		if p.State().Completed() {
			return true
		}
	}
	return false
}

// request resolves the file contract handed to the action. Aggregate
// tasks receive only the inputs of producers that completed; the
// samples behind excluded inputs are reported as missing.
func (e *Executor) request(t *graph.Task) *stage.Request {
	req := &stage.Request{
		Stage:   t.Stage,
		Sample:  t.Sample,
		Threads: t.Threads,
		Inputs:  make(map[string][]string),
		Outputs: make(map[string]string),
	}
	missing := make(map[string]bool)
	for _, in := range t.Inputs {
		p := in.Artifact.Producer
		if t.Aggregate && p != nil && !p.State().Completed() {
			if in.Artifact.Sample != "" {
				missing[in.Artifact.Sample] = true
			}
			continue
		}
		req.Inputs[in.Role] = append(req.Inputs[in.Role], in.Artifact.Path)
	}
	for _, out := range t.Outputs {
		req.Outputs[out.Role] = out.Artifact.Path
	}
	for id := range missing {
		req.MissingSamples = append(req.MissingSamples, id)
	}
	sort.Strings(req.MissingSamples)
	return req
}

// releaseTemporaries deletes temporary input artifacts of t whose
// consumers have all reached a terminal state. Deletion is best-effort
// and never blocks or fails the run.
func (e *Executor) releaseTemporaries(ctx context.Context, t *graph.Task) {
	logger := ctxlog.FromContext(ctx)
	for _, in := range t.Inputs {
		art := in.Artifact
		if !art.Temporary {
			continue
		}
		live := false
		for _, c := range art.Consumers {
			if !c.State().Terminal() {
				live = true
				break
			}
		}
		if live {
			continue
		}
		if err := os.Remove(art.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove temporary artifact.", "path", art.Path, "error", err)
		} else {
			logger.Debug("Removed temporary artifact.", "path", art.Path)
		}
	}
}

func (e *Executor) transition(t *graph.Task, s graph.State) {
	t.SetState(s)
	if e.observer != nil {
		e.observer(t)
	}
}

// rootCause mirrors the final sweep over the status table: it collects
// genuinely failed tasks (not the skipped symptoms downstream) into one
// wrapped error, or nil if every task completed.
func (e *Executor) rootCause() error {
	var failed []string
	var first error
	for _, t := range e.graph.Tasks {
		if t.State() == graph.Failed {
			failed = append(failed, t.ID())
			if first == nil {
				first = t.Err
			}
		}
	}
	if first == nil {
		return nil
	}
	return fmt.Errorf("execution failed for %s: %w", strings.Join(failed, ", "), first)
}
