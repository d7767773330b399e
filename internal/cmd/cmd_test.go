package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command against a temp-dir fixture and returns
// the combined stdout buffer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// fixture writes a minimal but complete project: a config, a reference,
// and a two-sample sheet with existing FASTQ files.
func fixture(t *testing.T) (configPath, sheetPath string) {
	t.Helper()
	dir := t.TempDir()

	for _, name := range []string{"ref.fa", "S1_R1.fq.gz", "S1_R2.fq.gz", "S2_R1.fq.gz", "S2_R2.fq.gz"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	configPath = filepath.Join(dir, "run.hcl")
	cfg := fmt.Sprintf("output_dir = %q\nreference = \"${base_dir}/ref.fa\"\n", filepath.Join(dir, "out"))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	sheetPath = filepath.Join(dir, "samples.tsv")
	sheet := fmt.Sprintf("S1\t%s\t%s\nS2\t%s\t%s\n",
		filepath.Join(dir, "S1_R1.fq.gz"), filepath.Join(dir, "S1_R2.fq.gz"),
		filepath.Join(dir, "S2_R1.fq.gz"), filepath.Join(dir, "S2_R2.fq.gz"))
	require.NoError(t, os.WriteFile(sheetPath, []byte(sheet), 0o644))
	return configPath, sheetPath
}

func TestPlanPrintsGraph(t *testing.T) {
	configPath, sheetPath := fixture(t)

	out, err := execute(t, "plan", "--config", configPath, "--samples", sheetPath)
	require.NoError(t, err)

	assert.Contains(t, out, "trim:S1 (threads=4)")
	assert.Contains(t, out, "align:S2 (threads=8) <- trim:S2")
	assert.Contains(t, out, "report (threads=1) <-")
	assert.Contains(t, out, "tasks,")
}

func TestPlanRejectsBrokenSheet(t *testing.T) {
	configPath, _ := fixture(t)
	sheetPath := filepath.Join(t.TempDir(), "samples.tsv")
	require.NoError(t, os.WriteFile(sheetPath, []byte("S1\tonly_two_columns\n"), 0o644))

	_, err := execute(t, "plan", "--config", configPath, "--samples", sheetPath)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, exitErr.Message, sheetPath+":1:")
	assert.Contains(t, exitErr.Message, "tab-separated columns")
}

func TestRunRejectsNonPositiveThreads(t *testing.T) {
	configPath, sheetPath := fixture(t)

	_, err := execute(t, "run", "--config", configPath, "--samples", sheetPath, "--threads", "0")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, exitErr.Message, "--threads must be at least 1")
}

func TestPlanRejectsMissingConfig(t *testing.T) {
	_, sheetPath := fixture(t)

	_, err := execute(t, "plan", "--config", filepath.Join(t.TempDir(), "nope.hcl"), "--samples", sheetPath)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "bogus")
	require.Error(t, err)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr), "cobra usage errors surface as plain errors")
}
