package sync

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/devsettings/internal/checksum"
	"github.com/schaermu/devsettings/internal/discovery"
	"github.com/schaermu/devsettings/internal/manifest"
)

// Classify assigns every discovered file to a bucket by comparing the
// destination content with the source content and the manifest history.
func Classify(fs afero.Fs, projectRoot string, files *discovery.Files, m manifest.Manifest) (*Plan, error) {
	plan := &Plan{
		New:       make([]FileOp, 0),
		Unchanged: make([]FileOp, 0),
		Updatable: make([]FileOp, 0),
		Modified:  make([]FileOp, 0),
		Orphans:   make([]string, 0),
	}

	for _, f := range files.List() {
		sourceSum, err := checksum.File(fs, f.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to compute checksum for %s: %w", f.Source, err)
		}
		op := FileOp{Dest: f.Dest, Source: f.Source, SourceSum: sourceSum}

		destPath := destination(projectRoot, f.Dest)
		info, err := fs.Stat(destPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				plan.New = append(plan.New, op)
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", destPath, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("destination %s is a directory", f.Dest)
		}

		op.LocalSum, err = checksum.File(fs, destPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compute checksum for %s: %w", destPath, err)
		}

		switch {
		case op.LocalSum == op.SourceSum:
			plan.Unchanged = append(plan.Unchanged, op)
		case m.Contains(f.Dest, op.LocalSum):
			plan.Updatable = append(plan.Updatable, op)
		default:
			plan.Modified = append(plan.Modified, op)
		}
	}

	return plan, nil
}

// FindOrphans returns the manifest paths, in lexical order, that are no
// longer discovered but still exist as files in the project.
func FindOrphans(fs afero.Fs, projectRoot string, files *discovery.Files, m manifest.Manifest) ([]string, error) {
	orphans := make([]string, 0)

	for _, dest := range m.Paths() {
		if files.Has(manifest.CleanPath(dest)) || !insideProject(dest) {
			continue
		}

		info, err := fs.Stat(destination(projectRoot, dest))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", dest, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		orphans = append(orphans, dest)
	}

	return orphans, nil
}

// insideProject rejects manifest keys that would escape the project root
func insideProject(dest string) bool {
	if dest == "" || path.IsAbs(dest) || filepath.IsAbs(dest) {
		return false
	}
	cleaned := path.Clean(dest)
	return cleaned != "." && cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

// destination maps a project-relative path to its location on disk
func destination(projectRoot, dest string) string {
	return filepath.Join(projectRoot, filepath.FromSlash(dest))
}
