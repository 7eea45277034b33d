package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/schaermu/devsettings/internal/config"
	"github.com/schaermu/devsettings/internal/discovery"
	"github.com/schaermu/devsettings/internal/manifest"
	"github.com/schaermu/devsettings/internal/prompt"
)

// Input is everything a single synchronization needs
type Input struct {
	FS          afero.Fs
	Config      *config.Config
	SourceRoot  string
	ProjectRoot string
	Manifest    manifest.Manifest
	Confirmer   prompt.Confirmer
	DryRun      bool
	Logger      *slog.Logger
	// Preview, when set, sees the plan before any prompt or file change.
	// An error aborts the synchronization.
	Preview func(*Plan) error
}

// Outcome is the result of Synchronize. Manifest is a new value; the input
// manifest is never mutated.
type Outcome struct {
	Plan     *Plan
	Manifest manifest.Manifest
	Report   *Report
}

// Synchronize discovers the published files, classifies them, shows the
// plan to Preview, asks about local edits and applies the result to the
// project.
func Synchronize(ctx context.Context, in Input) (*Outcome, error) {
	logger := in.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if in.Config == nil {
		return nil, fmt.Errorf("no configuration given")
	}
	confirmer := in.Confirmer
	if confirmer == nil {
		confirmer = prompt.NonInteractive{}
	}

	files, err := discovery.Discover(in.FS, in.SourceRoot, in.Config.Paths, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to discover source files: %w", err)
	}
	logger.Info("discovered source files", "count", files.Len())

	plan, err := Classify(in.FS, in.ProjectRoot, files, in.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to classify files: %w", err)
	}
	plan.Orphans, err = FindOrphans(in.FS, in.ProjectRoot, files, in.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned files: %w", err)
	}

	logger.Info("sync plan",
		"new", len(plan.New),
		"unchanged", len(plan.Unchanged),
		"updatable", len(plan.Updatable),
		"modified", len(plan.Modified),
		"orphans", len(plan.Orphans))

	if in.Preview != nil {
		if err := in.Preview(plan); err != nil {
			return nil, err
		}
	}

	approved := map[string]bool{}
	if len(plan.Modified) > 0 && !in.DryRun {
		paths := make([]string, 0, len(plan.Modified))
		for _, op := range plan.Modified {
			paths = append(paths, op.Dest)
		}
		approved, err = prompt.Decide(confirmer, paths)
		if err != nil {
			logger.Warn("confirmation aborted, skipping locally modified files", "error", err)
			approved = map[string]bool{}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := in.Manifest.Clone()
	report, err := Apply(in.FS, in.ProjectRoot, plan, approved, next, in.DryRun, logger)
	if err != nil {
		return nil, err
	}

	return &Outcome{Plan: plan, Manifest: next, Report: report}, nil
}
