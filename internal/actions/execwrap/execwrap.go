// Package execwrap runs external commands for actions, capturing output so
// failures can surface the tool's own diagnostics. Stdout stays quiet during
// normal runs: the event stream owns the terminal.
package execwrap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// Result captures the output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// Command builds an exec.Cmd bound to ctx with optional working directory
// and extra environment entries layered over the process environment.
func Command(ctx context.Context, workDir string, env map[string]string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		cmd.Env = merged
	}
	return cmd
}

// Run executes the command and captures stdout and stderr, trimmed.
func Run(cmd *exec.Cmd) (Result, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	return Result{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}, err
}

// PrimaryOutput returns stderr if present, otherwise stdout. Package manager
// and systemd failures usually explain themselves on stderr.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

// ExitedNonZero reports whether err is a normal non-zero exit as opposed to
// a failure to start the command at all.
func ExitedNonZero(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
