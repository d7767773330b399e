package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/report"
	"github.com/seqlab/cappflow/internal/stage"
)

// aggregate is the cross-sample barrier action: it records which
// samples survived to aggregation and merges the surviving metrics into
// one report with multiqc. It runs over whatever subset succeeded;
// samples lost to upstream failures appear in the manifest, not as an
// error.
type aggregate struct {
	tc *Toolchain
}

// Run implements stage.Action.
func (a *aggregate) Run(ctx context.Context, req *stage.Request) error {
	logger := ctxlog.FromContext(ctx).With("task", taskName(req))

	logFile, err := a.tc.openLog(req)
	if err != nil {
		return err
	}
	defer logFile.Close()

	for _, path := range req.Outputs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	var inputs []string
	for _, paths := range req.Inputs {
		inputs = append(inputs, paths...)
	}
	sort.Strings(inputs)
	if len(req.MissingSamples) > 0 {
		logger.Warn("Aggregating over a partial sample set.",
			"included", len(inputs), "missing_samples", req.MissingSamples)
	}

	manifestTmp := req.Outputs["manifest"] + partialSuffix
	if err := report.WriteAggregateManifest(manifestTmp, report.AggregateManifest{
		Inputs:         inputs,
		MissingSamples: req.MissingSamples,
	}); err != nil {
		return err
	}

	htmlTmp := req.Outputs["html"] + partialSuffix
	argv := append([]string{a.tc.cfg.Tools.MultiQC}, inputs...)
	argv = append(argv,
		"--force",
		"--no-data-dir",
		"-o", filepath.Dir(htmlTmp),
		"-n", filepath.Base(htmlTmp),
	)
	argvs := [][]string{argv}
	if a.tc.isolated {
		argvs[0] = append([]string{"conda", "run", "-n", "cappflow-multiqc", "--"}, argvs[0]...)
	}

	if err := runPipeline(ctx, argvs, logFile, logFile); err != nil {
		os.Remove(manifestTmp)
		os.Remove(htmlTmp)
		return fmt.Errorf("%s failed (log: %s): %w", taskName(req), logFile.Name(), err)
	}

	if _, err := os.Stat(htmlTmp); err != nil {
		os.Remove(manifestTmp)
		return fmt.Errorf("%s did not produce the merged report (log: %s)", taskName(req), logFile.Name())
	}
	// A failed task must not leave any finalized output behind, or a
	// rerun's freshness check would trust it. Undo on either rename.
	if err := os.Rename(manifestTmp, req.Outputs["manifest"]); err != nil {
		os.Remove(htmlTmp)
		return fmt.Errorf("failed to finalize aggregate manifest: %w", err)
	}
	if err := os.Rename(htmlTmp, req.Outputs["html"]); err != nil {
		os.Remove(req.Outputs["manifest"])
		os.Remove(htmlTmp)
		return fmt.Errorf("failed to finalize merged report: %w", err)
	}
	return nil
}
