// Package cmd wires the CLI surface: `cappflow run` executes a
// pipeline, `cappflow plan` builds and prints the task graph without
// executing anything.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// ExitError maps a failure to a specific process exit code: 1 for task
// failures, 2 for configuration, sample-sheet, and graph-build errors.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) *ExitError {
	return &ExitError{Code: 2, Message: err.Error()}
}

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "cappflow",
	Short:         "Pipeline runner for targeted/CAPP-seq sequencing data",
	Long: `cappflow orchestrates the per-sample trimming, alignment, duplicate
marking, and QC stages of a targeted sequencing pipeline, runs
independent tasks concurrently under a global thread budget, skips
work whose outputs are already fresh, and isolates failures so one bad
sample never stops the rest of the run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
}
