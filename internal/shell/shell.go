// Package shell runs external commands synchronously.
//
// Output is captured in full while the command runs so a chatty child can
// never block on a full pipe; the exit code is the only success signal. A
// command that cannot be started is reported as a non-zero result rather
// than as a Go error, so callers can treat "failed" and "could not run"
// the same way.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ExitSpawnFailure is the exit code reported when a command could not be
// started at all.
const ExitSpawnFailure = 127

// Result is the outcome of one command
type Result struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   []byte `json:"-"`
	Err      error  `json:"-"`
}

// OK reports whether the command exited with status zero
func (r Result) OK() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// Runner executes commands in a working directory
type Runner interface {
	// Shell runs command through the platform shell
	Shell(ctx context.Context, dir, command string) Result
	// Exec runs name with args without a shell
	Exec(ctx context.Context, dir, name string, args ...string) Result
}

// Client implements Runner with os/exec
type Client struct{}

// NewClient creates a new command runner
func NewClient() *Client {
	return &Client{}
}

// Shell runs command through sh -c (cmd /C on Windows)
func (c *Client) Shell(ctx context.Context, dir, command string) Result {
	if runtime.GOOS == "windows" {
		return c.run(ctx, dir, command, "cmd", "/C", command)
	}
	return c.run(ctx, dir, command, "sh", "-c", command)
}

// Exec runs name with args
func (c *Client) Exec(ctx context.Context, dir, name string, args ...string) Result {
	display := strings.TrimSpace(name + " " + strings.Join(args, " "))
	return c.run(ctx, dir, display, name, args...)
}

func (c *Client) run(ctx context.Context, dir, display, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err == nil {
		return Result{Command: display, Output: output}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code <= 0 {
			// killed by a signal
			code = 1
		}
		return Result{
			Command:  display,
			ExitCode: code,
			Output:   output,
			Err:      fmt.Errorf("%s exited with status %d: %s", display, code, strings.TrimSpace(string(output))),
		}
	}

	return Result{
		Command:  display,
		ExitCode: ExitSpawnFailure,
		Output:   output,
		Err:      fmt.Errorf("failed to start %s: %w", display, err),
	}
}
