// Package shell runs commands through `sh -c` with deadlines, capturing
// output and exit codes. The git, tmux, and ttyd services are built on it.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout applies when a caller does not supply one.
const DefaultTimeout = 30 * time.Second

// Result holds the captured output of a finished command. ReturnCode is -1
// when the command could not be started or exceeded its deadline.
type Result struct {
	Stdout     string
	Stderr     string
	ReturnCode int
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool {
	return r.ReturnCode == 0
}

// Run executes command through `sh -c` in cwd (empty means inherited) with
// the default 30s timeout.
func Run(ctx context.Context, command, cwd string) *Result {
	return RunTimeout(ctx, command, cwd, DefaultTimeout)
}

// RunTimeout executes command through `sh -c` with an explicit timeout.
// Failures to start and deadline overruns are reported in the Result rather
// than as errors, so callers always have stderr to surface.
func RunTimeout(ctx context.Context, command, cwd string, timeout time.Duration) *Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Result{
			Stderr:     fmt.Sprintf("Command timed out after %gs", timeout.Seconds()),
			ReturnCode: -1,
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{
				Stdout:     stdout.String(),
				Stderr:     stderr.String(),
				ReturnCode: exitErr.ExitCode(),
			}
		}
		return &Result{
			Stderr:     fmt.Sprintf("Failed to execute command: %v", err),
			ReturnCode: -1,
		}
	}

	return &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ReturnCode: 0,
	}
}

// CommandExists reports whether name resolves on PATH.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
