// Package tools turns the external bioinformatics tools into opaque
// task actions with declared file contracts, and assembles the built-in
// CAPP-seq stage list. Every action writes its outputs to a .partial
// temporary path and renames on success, so a crashed or killed tool
// never leaves a half-written file that a later run would mistake for a
// fresh output.
package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/stage"
)

// partialSuffix marks in-flight outputs.
const partialSuffix = ".partial"

// buildFunc assembles the command pipeline for one invocation. out maps
// output roles to their temporary paths; the returned commands run with
// each stdout piped into the next stdin. stdoutRole, when non-empty,
// names the output role that receives the final command's stdout (for
// tools that only write to stdout); otherwise stdout goes to the log.
type buildFunc func(req *stage.Request, out map[string]string) (cmds [][]string, stdoutRole string)

// command is a stage.Action that shells out. env is the conda
// environment suffix used when isolated execution is requested.
type command struct {
	tc    *Toolchain
	env   string
	build buildFunc
}

// Run implements stage.Action. The spawned processes inherit ctx
// cancellation through exec.CommandContext, so an aborted run kills
// them rather than orphaning them.
func (c *command) Run(ctx context.Context, req *stage.Request) error {
	logger := ctxlog.FromContext(ctx).With("task", taskName(req))

	logFile, err := c.tc.openLog(req)
	if err != nil {
		return err
	}
	defer logFile.Close()

	out := make(map[string]string, len(req.Outputs))
	for role, path := range req.Outputs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory for %s: %w", path, err)
		}
		out[role] = path + partialSuffix
	}

	argvs, stdoutRole := c.build(req, out)
	if c.tc.isolated {
		for i, argv := range argvs {
			argvs[i] = append([]string{"conda", "run", "-n", "cappflow-" + c.env, "--"}, argv...)
		}
	}

	var stdout io.Writer = logFile
	if stdoutRole != "" {
		f, err := os.Create(out[stdoutRole])
		if err != nil {
			return fmt.Errorf("failed to create output %s: %w", out[stdoutRole], err)
		}
		defer f.Close()
		stdout = f
	}

	logger.Debug("Invoking tool pipeline.", "commands", len(argvs), "log", logFile.Name())
	if err := runPipeline(ctx, argvs, stdout, logFile); err != nil {
		discardPartials(out)
		return fmt.Errorf("%s failed (log: %s): %w", taskName(req), logFile.Name(), err)
	}

	for role, tmp := range out {
		if _, err := os.Stat(tmp); err != nil {
			discardPartials(out)
			return fmt.Errorf("%s did not produce declared output %q (log: %s)", taskName(req), req.Outputs[role], logFile.Name())
		}
		if err := os.Rename(tmp, req.Outputs[role]); err != nil {
			discardPartials(out)
			return fmt.Errorf("failed to finalize output %s: %w", req.Outputs[role], err)
		}
	}
	return nil
}

// runPipeline executes argvs as a unix-style pipe. All stderr streams
// and the final stdout (unless redirected to an output) land in the
// task log. The first failing command's error wins.
func runPipeline(ctx context.Context, argvs [][]string, stdout, log io.Writer) error {
	cmds := make([]*exec.Cmd, len(argvs))
	for i, argv := range argvs {
		cmds[i] = exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmds[i].Stderr = log
	}
	for i := 0; i < len(cmds)-1; i++ {
		pipe, err := cmds[i].StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to connect pipe after %s: %w", cmds[i].Path, err)
		}
		cmds[i+1].Stdin = pipe
	}
	cmds[len(cmds)-1].Stdout = stdout

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			// Reap whatever already started so nothing outlives the call.
			for _, prev := range cmds[:i] {
				prev.Process.Kill()
				prev.Wait()
			}
			return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
		}
	}
	var firstErr error
	for _, cmd := range cmds {
		if err := cmd.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", filepath.Base(cmd.Path), err)
		}
	}
	if firstErr != nil && ctx.Err() != nil {
		return fmt.Errorf("cancelled: %w", ctx.Err())
	}
	return firstErr
}

func discardPartials(out map[string]string) {
	for _, tmp := range out {
		os.Remove(tmp)
	}
}

// openLog creates the per-task log file referenced by the final status
// table.
func (tc *Toolchain) openLog(req *stage.Request) (*os.File, error) {
	if err := os.MkdirAll(tc.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := strings.ReplaceAll(taskName(req), string(filepath.Separator), "_")
	f, err := os.Create(filepath.Join(tc.logDir, name+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create task log: %w", err)
	}
	return f, nil
}

func taskName(req *stage.Request) string {
	if req.Sample == "" {
		return req.Stage
	}
	return req.Stage + "." + req.Sample
}
