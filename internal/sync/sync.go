// Package sync publishes developer settings from a source package into a
// project while preserving local edits.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"

	"github.com/schaermu/devsettings/internal/checksum"
	"github.com/schaermu/devsettings/internal/composer"
	"github.com/schaermu/devsettings/internal/config"
	"github.com/schaermu/devsettings/internal/discovery"
	"github.com/schaermu/devsettings/internal/hooks"
	"github.com/schaermu/devsettings/internal/manifest"
	"github.com/schaermu/devsettings/internal/prompt"
	"github.com/schaermu/devsettings/internal/report"
	"github.com/schaermu/devsettings/internal/shell"
)

// ErrSourceNotFound is returned when the source package directory is missing
var ErrSourceNotFound = errors.New("source package not found")

// Options locate the project and the source package for a run
type Options struct {
	ProjectRoot  string
	SourceRoot   string
	ManifestPath string // defaults to <SourceRoot>/manifest.json
	ConfigPath   string // defaults to the first config file found in SourceRoot
	ComposerFile string // defaults to <ProjectRoot>/composer.json
	ComposerBin  string
	DryRun       bool
	NoHooks      bool
	NoComposer   bool
}

// Printer shows the summary. Header lists the pending changes before any
// prompt; Footer closes it with the counts before hooks and composer run.
type Printer interface {
	Header(s report.Summary) error
	Footer(s report.Summary) error
}

// RunResult is what the CLI gets back from a run
type RunResult struct {
	RunID        string           `json:"run_id"`
	DryRun       bool             `json:"dry_run"`
	SourceRoot   string           `json:"source_root"`
	Report       *Report          `json:"report"`
	Dependencies *composer.Result `json:"dependencies,omitempty"`
	Hook         hooks.Result     `json:"hook"`
	Install      *shell.Result    `json:"install,omitempty"`
	Remove       *shell.Result    `json:"remove,omitempty"`
}

// Summary folds the dependency counts into the file counts for display
func (r *RunResult) Summary() report.Summary {
	s := report.Summary{
		DryRun:   r.DryRun,
		Created:  r.Report.Created,
		Updated:  r.Report.Updated,
		Modified: r.Report.Modified,
		Removed:  r.Report.Removed,
		Stats:    report.Stats(r.Report.Stats),
	}
	if r.Dependencies != nil {
		s.DepsAdded = r.Dependencies.InstallNames()
		s.DepsRemoved = r.Dependencies.ToRemove
		s.Stats.New += len(r.Dependencies.ToInstall)
		s.Stats.Unchanged += len(r.Dependencies.Unchanged)
		s.Stats.Removed += len(r.Dependencies.ToRemove)
	}
	return s
}

// Engine orchestrates the sync process. All runs of one engine share a
// single dependency merge guard, so composer.json is merged at most once per
// process.
type Engine struct {
	fs        afero.Fs
	opts      Options
	run       *composer.Run
	confirmer prompt.Confirmer
	runner    shell.Runner
	printer   Printer
	logger    *slog.Logger
}

// NewEngine creates a new sync engine. printer may be nil.
func NewEngine(fs afero.Fs, opts Options, confirmer prompt.Confirmer, runner shell.Runner, printer Printer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if confirmer == nil {
		confirmer = prompt.NonInteractive{}
	}
	return &Engine{
		fs:        fs,
		opts:      opts,
		run:       composer.NewRun(),
		confirmer: confirmer,
		runner:    runner,
		printer:   printer,
		logger:    logger,
	}
}

// Run executes the complete sync process
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	logger := e.logger.With("run_id", e.run.ID.String())

	logger.Info("starting sync",
		"project", e.opts.ProjectRoot,
		"source", e.opts.SourceRoot,
		"dry_run", e.opts.DryRun)

	if err := e.checkSource(); err != nil {
		return nil, err
	}

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}

	// Load previous manifest
	manifestPath := e.manifestPath()
	prev, err := manifest.LoadStrict(e.fs, manifestPath)
	if err != nil {
		logger.Warn("failed to load manifest (will treat as empty history)", "path", manifestPath, "error", err)
		prev = manifest.New()
	}

	result := &RunResult{
		RunID:      e.run.ID.String(),
		DryRun:     e.opts.DryRun,
		SourceRoot: e.opts.SourceRoot,
	}

	// Merge dev dependencies and list every pending change before the
	// user is asked about local edits
	preview := func(plan *Plan) error {
		deps, err := e.mergeDependencies(cfg, logger)
		if err != nil {
			return err
		}
		result.Dependencies = deps
		if e.printer == nil {
			return nil
		}
		if err := e.printer.Header(planSummary(plan, deps, e.opts.DryRun)); err != nil {
			return fmt.Errorf("failed to render summary: %w", err)
		}
		return nil
	}

	outcome, err := Synchronize(ctx, Input{
		FS:          e.fs,
		Config:      cfg,
		SourceRoot:  e.opts.SourceRoot,
		ProjectRoot: e.opts.ProjectRoot,
		Manifest:    prev,
		Confirmer:   e.confirmer,
		DryRun:      e.opts.DryRun,
		Logger:      logger,
		Preview:     preview,
	})
	if err != nil {
		return nil, err
	}
	result.Report = outcome.Report

	// Save new manifest
	if !e.opts.DryRun && !outcome.Manifest.Equal(prev) {
		if err := manifest.Save(e.fs, manifestPath, outcome.Manifest); err != nil {
			return nil, fmt.Errorf("failed to save manifest: %w", err)
		}
		logger.Debug("manifest saved", "path", manifestPath, "entries", len(outcome.Manifest))
	}

	if e.printer != nil {
		if err := e.printer.Footer(result.Summary()); err != nil {
			return nil, fmt.Errorf("failed to render summary: %w", err)
		}
	}

	if e.opts.DryRun {
		logger.Info("dry-run complete, no changes applied")
		return result, nil
	}

	// Run post-sync hook
	if !e.opts.NoHooks {
		d := hooks.NewDispatcher(e.runner, e.opts.ProjectRoot, logger)
		result.Hook = d.Dispatch(ctx, cfg.Hooks, outcome.Report.Changed)
	}

	// Bring vendor/ in line with require-dev
	if result.Dependencies.Pending() {
		inst := composer.NewInstaller(e.runner, e.opts.ComposerBin, e.opts.ProjectRoot, logger)
		result.Install = inst.Install(ctx, result.Dependencies.InstallNames())
		result.Remove = inst.Remove(ctx, result.Dependencies.ToRemove)
	}

	logger.Info("sync completed successfully",
		"new", outcome.Report.Stats.New,
		"updated", outcome.Report.Stats.Updated,
		"skipped", outcome.Report.Stats.Skipped,
		"removed", outcome.Report.Stats.Removed)
	return result, nil
}

// mergeDependencies merges the declared dev dependencies into composer.json.
// It returns nil when composer is disabled or nothing is declared.
func (e *Engine) mergeDependencies(cfg *config.Config, logger *slog.Logger) (*composer.Result, error) {
	spec := composer.Spec{Install: cfg.Composer.Install, Remove: cfg.Composer.Remove}
	if e.opts.NoComposer || (len(spec.Install) == 0 && len(spec.Remove) == 0) {
		return nil, nil
	}

	merger := composer.NewMerger(e.fs, e.composerFile(), logger)
	deps, err := merger.Prepare(e.run, spec, e.opts.DryRun)
	if err != nil {
		return nil, fmt.Errorf("failed to merge dev dependencies: %w", err)
	}
	return deps, nil
}

// planSummary lists the pending changes of plan for the summary header
func planSummary(plan *Plan, deps *composer.Result, dryRun bool) report.Summary {
	s := report.Summary{
		DryRun:   dryRun,
		Created:  dests(plan.New),
		Updated:  dests(plan.Updatable),
		Modified: dests(plan.Modified),
		Removed:  slices.Clone(plan.Orphans),
	}
	if deps != nil {
		s.DepsAdded = deps.InstallNames()
		s.DepsRemoved = deps.ToRemove
	}
	return s
}

func dests(ops []FileOp) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Dest)
	}
	return out
}

// RecordSources appends the current checksum of every published source
// file to the manifest at the configured path. It is meant for maintainers
// of the source package, before tagging a release. The history only grows.
func (e *Engine) RecordSources() (int, error) {
	if err := e.checkSource(); err != nil {
		return 0, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return 0, err
	}

	manifestPath := e.manifestPath()
	m, err := manifest.LoadStrict(e.fs, manifestPath)
	if err != nil {
		return 0, err
	}

	files, err := discovery.Discover(e.fs, e.opts.SourceRoot, cfg.Paths, e.logger)
	if err != nil {
		return 0, fmt.Errorf("failed to discover source files: %w", err)
	}

	added := 0
	for _, f := range files.List() {
		sum, err := checksum.File(e.fs, f.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to compute checksum for %s: %w", f.Source, err)
		}
		if m.Record(f.Dest, sum) {
			e.logger.Info("recorded checksum", "dest", f.Dest, "checksum", sum)
			added++
		}
	}

	if added == 0 || e.opts.DryRun {
		return added, nil
	}
	if err := manifest.Save(e.fs, manifestPath, m); err != nil {
		return 0, fmt.Errorf("failed to save manifest: %w", err)
	}
	return added, nil
}

// ManifestPath returns the manifest location used by this engine
func (e *Engine) ManifestPath() string {
	return e.manifestPath()
}

func (e *Engine) checkSource() error {
	info, err := e.fs.Stat(e.opts.SourceRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, e.opts.SourceRoot)
		}
		return fmt.Errorf("failed to stat source package: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, e.opts.SourceRoot)
	}
	return nil
}

func (e *Engine) loadConfig() (*config.Config, error) {
	path := e.opts.ConfigPath
	if path == "" {
		found, err := config.FindFS(e.fs, e.opts.SourceRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to locate configuration: %w", err)
		}
		path = found
	}

	cfg, err := config.LoadFS(e.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	e.logger.Debug("configuration loaded", "path", path)
	return cfg, nil
}

func (e *Engine) manifestPath() string {
	if e.opts.ManifestPath != "" {
		return e.opts.ManifestPath
	}
	return filepath.Join(e.opts.SourceRoot, manifest.FileName)
}

func (e *Engine) composerFile() string {
	if e.opts.ComposerFile != "" {
		return e.opts.ComposerFile
	}
	return filepath.Join(e.opts.ProjectRoot, composer.FileName)
}
