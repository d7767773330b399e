// Package stage defines the declarative template model a pipeline is
// assembled from. A Stage describes one kind of work: which upstream
// outputs it consumes, which files it produces, and how many threads it
// wants. The graph builder expands stages across the sample list; the
// stage itself never touches the filesystem.
package stage

import (
	"context"
	"strings"
)

// RawReads is the pseudo-stage name an InputRef uses to bind a sample's
// original read files instead of an upstream stage output.
const RawReads = ""

// Raw read roles available under the RawReads pseudo-stage.
const (
	RoleRead1 = "read1"
	RoleRead2 = "read2"
)

// InputRef names one input role of a stage: the upstream stage that
// produces it and the output role to bind. When AllSamples is set the
// reference fans in the named output of every sample's task (aggregate
// stages only).
type InputRef struct {
	Stage      string
	Role       string
	AllSamples bool
}

// Output declares one file a stage produces. Template is a path
// relative to the run output directory; the literal "{sample}" is
// substituted with the sample id. Temporary outputs may be deleted once
// every consumer task is terminal.
type Output struct {
	Role      string
	Template  string
	Temporary bool
}

// Path resolves the template for one sample. Aggregate stage templates
// contain no "{sample}" marker and resolve as-is.
func (o Output) Path(sampleID string) string {
	return strings.ReplaceAll(o.Template, "{sample}", sampleID)
}

// Request carries the resolved file contract of one task into its
// action. Inputs maps role to the bound paths — exactly one path per
// role for per-sample tasks, one per contributing sample for aggregate
// fan-in roles. MissingSamples lists samples whose contribution was
// lost to an upstream failure; it is only ever non-empty for aggregate
// tasks, which run over the surviving subset.
type Request struct {
	Stage          string
	Sample         string
	Inputs         map[string][]string
	Outputs        map[string]string
	Threads        int
	MissingSamples []string
}

// Input returns the single bound path for a scalar role.
func (r *Request) Input(role string) string {
	paths := r.Inputs[role]
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// Action is the opaque executable unit of a task. Run blocks until the
// work finishes and reports failure through the returned error; it must
// honor ctx cancellation and kill any spawned process.
type Action interface {
	Run(ctx context.Context, req *Request) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, req *Request) error

// Run implements Action.
func (f ActionFunc) Run(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// Stage is one template in the pipeline definition. PerSample stages
// expand to one task per sample; aggregate stages instantiate exactly
// once per run.
type Stage struct {
	Name      string
	PerSample bool
	Threads   int
	Inputs    []InputRef
	Outputs   []Output
	Action    Action
}
