// Package hooks runs the configured post-sync command when synchronized
// files match one of its glob patterns.
package hooks

import (
	"context"
	"io"
	"log/slog"

	"github.com/gobwas/glob"

	"github.com/schaermu/devsettings/internal/config"
	"github.com/schaermu/devsettings/internal/pattern"
	"github.com/schaermu/devsettings/internal/shell"
)

// Result describes what the dispatcher did
type Result struct {
	Ran         bool   `json:"ran"`
	Description string `json:"description,omitempty"`
	File        string `json:"file,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	ExitCode    int    `json:"exit_code"`
	Err         error  `json:"-"`
}

// OK reports whether the hook either did not run or exited cleanly
func (r Result) OK() bool {
	return !r.Ran || (r.ExitCode == 0 && r.Err == nil)
}

// Compile compiles every hook pattern. `*` stops at directory boundaries,
// `**` crosses them and `?` is any single character.
func Compile(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := pattern.Compile(p)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match returns the first changed file matching any pattern, along with
// that pattern. Files are checked in order, patterns in declaration order.
func Match(files, patterns []string) (file, pat string, ok bool, err error) {
	globs, err := Compile(patterns)
	if err != nil {
		return "", "", false, err
	}
	for _, f := range files {
		for i, g := range globs {
			if g.Match(f) {
				return f, patterns[i], true, nil
			}
		}
	}
	return "", "", false, nil
}

// Dispatcher runs the hook command through a shell runner
type Dispatcher struct {
	runner shell.Runner
	dir    string
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher running commands in dir
func NewDispatcher(runner shell.Runner, dir string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{runner: runner, dir: dir, logger: logger}
}

// Dispatch runs cfg.Command once if any changed file matches cfg.Patterns.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg config.HooksConfig, changed []string) Result {
	if cfg.Command == "" || len(changed) == 0 || len(cfg.Patterns) == 0 {
		return Result{}
	}

	file, pat, ok, err := Match(changed, cfg.Patterns)
	if err != nil {
		return Result{Err: err}
	}
	if !ok {
		d.logger.Debug("no changed file matches hook patterns", "changed", len(changed))
		return Result{}
	}

	d.logger.Info("running hook",
		"description", cfg.Description,
		"trigger", file,
		"pattern", pat)

	res := d.runner.Shell(ctx, d.dir, cfg.Command)
	if !res.OK() {
		d.logger.Error("hook command failed",
			"command", cfg.Command,
			"exit_code", res.ExitCode,
			"error", res.Err)
	}

	return Result{
		Ran:         true,
		Description: cfg.Description,
		File:        file,
		Pattern:     pat,
		ExitCode:    res.ExitCode,
		Err:         res.Err,
	}
}
