package sync

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/devsettings/internal/manifest"
)

// applier executes a plan against the project directory
type applier struct {
	fs          afero.Fs
	projectRoot string
	manifest    manifest.Manifest
	logger      *slog.Logger
	dryRun      bool
}

// Apply executes plan. Modified files are copied only when approved[dest]
// is true. Every copy records the source checksum in m; every deleted
// orphan drops its entry. In dry-run mode nothing touches the disk but m
// and the report reflect what would have happened.
func Apply(fs afero.Fs, projectRoot string, plan *Plan, approved map[string]bool, m manifest.Manifest, dryRun bool, logger *slog.Logger) (*Report, error) {
	a := &applier{
		fs:          fs,
		projectRoot: projectRoot,
		manifest:    m,
		logger:      logger,
		dryRun:      dryRun,
	}
	return a.apply(plan, approved)
}

func (a *applier) apply(plan *Plan, approved map[string]bool) (*Report, error) {
	report := newReport()

	for _, op := range plan.Unchanged {
		report.Unchanged = append(report.Unchanged, op.Dest)
	}
	report.Stats.Unchanged = len(plan.Unchanged)

	// Add new files
	for _, op := range plan.New {
		if err := a.copy(op, "adding file"); err != nil {
			return nil, fmt.Errorf("failed to add file %s: %w", op.Dest, err)
		}
		report.Created = append(report.Created, op.Dest)
		report.Changed = append(report.Changed, op.Dest)
		report.Stats.New++
	}

	// Update files we wrote before
	for _, op := range plan.Updatable {
		if err := a.copy(op, "updating file"); err != nil {
			return nil, fmt.Errorf("failed to update file %s: %w", op.Dest, err)
		}
		report.Updated = append(report.Updated, op.Dest)
		report.Changed = append(report.Changed, op.Dest)
		report.Stats.Updated++
	}

	// Overwrite local edits only with consent
	for _, op := range plan.Modified {
		report.Modified = append(report.Modified, op.Dest)
		if !approved[op.Dest] {
			a.logger.Info("skipping locally modified file", "dest", op.Dest)
			report.Skipped = append(report.Skipped, op.Dest)
			report.Stats.Skipped++
			continue
		}
		if err := a.copy(op, "overwriting locally modified file"); err != nil {
			return nil, fmt.Errorf("failed to overwrite file %s: %w", op.Dest, err)
		}
		report.Approved = append(report.Approved, op.Dest)
		report.Changed = append(report.Changed, op.Dest)
		report.Stats.Updated++
	}

	// Delete orphans
	for _, dest := range plan.Orphans {
		if err := a.remove(dest); err != nil {
			return nil, fmt.Errorf("failed to delete file %s: %w", dest, err)
		}
		report.Removed = append(report.Removed, dest)
		report.Changed = append(report.Changed, dest)
		report.Stats.Removed++
	}

	return report, nil
}

func (a *applier) copy(op FileOp, msg string) error {
	if a.dryRun {
		a.logger.Info("[dry-run] "+msg, "dest", op.Dest, "source", op.Source)
	} else {
		a.logger.Info(msg, "dest", op.Dest)
		if err := copyFile(a.fs, op.Source, destination(a.projectRoot, op.Dest)); err != nil {
			return err
		}
	}
	a.manifest.Record(op.Dest, op.SourceSum)
	return nil
}

func (a *applier) remove(dest string) error {
	if a.dryRun {
		a.logger.Info("[dry-run] deleting orphaned file", "dest", dest)
	} else {
		a.logger.Info("deleting orphaned file", "dest", dest)
		path := destination(a.projectRoot, dest)
		if err := a.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := pruneEmptyDirs(a.fs, filepath.Dir(path), a.projectRoot); err != nil {
			return err
		}
	}
	a.manifest.Remove(dest)
	return nil
}

// copyFile copies a file from src to dst with atomic write
func copyFile(fs afero.Fs, src, dst string) error {
	// Ensure parent directory exists
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// Open source
	srcFile, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := afero.TempFile(fs, filepath.Dir(dst), ".devsettings-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	// Copy content
	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Get source permissions
	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Close temp file
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Set permissions on temp file
	if err := fs.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	// Atomic rename
	return fs.Rename(tmpPath, dst)
}

// pruneEmptyDirs removes dir and its ancestors while they are empty,
// stopping before stopAt.
func pruneEmptyDirs(fs afero.Fs, dir, stopAt string) error {
	stopAt = filepath.Clean(stopAt)
	prefix := stopAt
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	for {
		dir = filepath.Clean(dir)
		if dir == stopAt || !strings.HasPrefix(dir, prefix) {
			return nil
		}

		entries, err := afero.ReadDir(fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}

		if err := fs.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
}
