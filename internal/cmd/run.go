package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/seqlab/cappflow/internal/config"
	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/executor"
	"github.com/seqlab/cappflow/internal/graph"
	"github.com/seqlab/cappflow/internal/progress"
	"github.com/seqlab/cappflow/internal/report"
	"github.com/seqlab/cappflow/internal/samplesheet"
	"github.com/seqlab/cappflow/internal/stage"
	"github.com/seqlab/cappflow/internal/tools"
)

var runFlags struct {
	configPath   string
	samplesPath  string
	threads      int
	isolatedEnvs bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline for every sample in the sheet",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.configPath, "config", "c", "", "path to the run configuration (HCL)")
	runCmd.Flags().StringVarP(&runFlags.samplesPath, "samples", "s", "", "path to the tab-delimited sample sheet")
	runCmd.Flags().IntVarP(&runFlags.threads, "threads", "t", runtime.NumCPU(), "global thread budget shared by all running tasks")
	runCmd.Flags().BoolVar(&runFlags.isolatedEnvs, "isolated-envs", false, "run each tool inside its own conda environment")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("samples")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFlags.threads < 1 {
		return usageError(fmt.Errorf("--threads must be at least 1, got %d", runFlags.threads))
	}
	logger := ctxlog.New(cmd.ErrOrStderr(), logFormat, logLevel)
	ctx := ctxlog.WithLogger(cmd.Context(), logger)

	runID := uuid.NewString()
	logger.Info("Starting pipeline run.", "run_id", runID, "threads", runFlags.threads)

	cfg, err := config.Load(ctx, runFlags.configPath)
	if err != nil {
		return usageError(err)
	}
	samples, err := samplesheet.Load(runFlags.samplesPath)
	if err != nil {
		return usageError(err)
	}
	logger.Info("Sample sheet loaded.", "samples", len(samples))

	toolchain := tools.New(cfg, runFlags.isolatedEnvs)
	g, err := graph.Build(ctx, toolchain.Pipeline(), samples, cfg.OutputDir, runFlags.threads)
	if err != nil {
		return usageError(err)
	}

	opts := executor.Options{Budget: runFlags.threads}
	if cfg.ProgressURL != "" {
		emitter, err := progress.Dial(ctx, cfg.ProgressURL, runID)
		if err != nil {
			return usageError(err)
		}
		defer emitter.Close()
		opts.Observer = emitter.Observe
	}

	started := time.Now()
	result, runErr := executor.New(g, opts).Run(ctx)
	finished := time.Now()

	summary := report.NewSummary(runID, result.Tasks, started, finished)
	summaryPath := filepath.Join(cfg.OutputDir, stage.DirReport, "run_summary.yaml")
	if err := os.MkdirAll(filepath.Dir(summaryPath), 0o755); err != nil {
		logger.Warn("Failed to write run summary.", "error", err)
	} else if err := summary.Write(summaryPath); err != nil {
		logger.Warn("Failed to write run summary.", "error", err)
	}
	summary.PrintTable(cmd.OutOrStdout())

	if runErr != nil {
		return &ExitError{Code: 1, Message: runErr.Error()}
	}
	logger.Info("Pipeline run finished.", "run_id", runID, "duration", finished.Sub(started).Round(time.Second).String())
	return nil
}
