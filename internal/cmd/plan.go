package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seqlab/cappflow/internal/config"
	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/graph"
	"github.com/seqlab/cappflow/internal/samplesheet"
	"github.com/seqlab/cappflow/internal/tools"
)

var planFlags struct {
	configPath  string
	samplesPath string
	threads     int
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build and print the task graph without executing it",
	Long: `plan validates the configuration, sample sheet, and stage graph, then
prints every task in dispatch tie-break order with its dependencies.
It runs the exact construction path of "run" and stops before
execution, so a plan that prints is a run that will schedule.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFlags.configPath, "config", "c", "", "path to the run configuration (HCL)")
	planCmd.Flags().StringVarP(&planFlags.samplesPath, "samples", "s", "", "path to the tab-delimited sample sheet")
	planCmd.Flags().IntVarP(&planFlags.threads, "threads", "t", 0, "thread budget used for clamping (0 = no clamp)")
	planCmd.MarkFlagRequired("config")
	planCmd.MarkFlagRequired("samples")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	logger := ctxlog.New(cmd.ErrOrStderr(), logFormat, logLevel)
	ctx := ctxlog.WithLogger(cmd.Context(), logger)

	cfg, err := config.Load(ctx, planFlags.configPath)
	if err != nil {
		return usageError(err)
	}
	samples, err := samplesheet.Load(planFlags.samplesPath)
	if err != nil {
		return usageError(err)
	}

	toolchain := tools.New(cfg, false)
	g, err := graph.Build(ctx, toolchain.Pipeline(), samples, cfg.OutputDir, planFlags.threads)
	if err != nil {
		return usageError(err)
	}

	out := cmd.OutOrStdout()
	for _, t := range g.Tasks {
		var deps []string
		for _, p := range t.Producers() {
			deps = append(deps, p.ID())
		}
		suffix := ""
		if len(deps) > 0 {
			suffix = " <- " + strings.Join(deps, ", ")
		}
		fmt.Fprintf(out, "%s (threads=%d)%s\n", t.ID(), t.Threads, suffix)
	}
	fmt.Fprintf(out, "\n%d tasks, %d artifacts\n", len(g.Tasks), len(g.Artifacts))
	return nil
}
