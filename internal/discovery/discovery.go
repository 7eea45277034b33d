package discovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/devsettings/internal/config"
)

// File pairs a project-relative destination with its absolute source path
type File struct {
	Dest   string // project-relative, forward slashes
	Source string // absolute path inside the source package
}

// Files is the ordered result of a discovery pass
type Files struct {
	list  []File
	index map[string]int
}

// NewFiles returns an empty Files set
func NewFiles() *Files {
	return &Files{index: make(map[string]int)}
}

// Add registers dest. A destination that is already present keeps its
// position but takes the new source (last writer wins).
func (f *Files) Add(dest, source string) {
	if i, ok := f.index[dest]; ok {
		f.list[i].Source = source
		return
	}
	f.index[dest] = len(f.list)
	f.list = append(f.list, File{Dest: dest, Source: source})
}

// List returns the files in discovery order
func (f *Files) List() []File {
	out := make([]File, len(f.list))
	copy(out, f.list)
	return out
}

// Source returns the source path for dest
func (f *Files) Source(dest string) (string, bool) {
	i, ok := f.index[dest]
	if !ok {
		return "", false
	}
	return f.list[i].Source, true
}

// Has reports whether dest was discovered
func (f *Files) Has(dest string) bool {
	_, ok := f.index[dest]
	return ok
}

// Len returns the number of discovered files
func (f *Files) Len() int {
	return len(f.list)
}

// Discover expands the configured directories and files below root.
// Directories are processed first, each walked in lexical order, then the
// explicit files, both in declaration order. Declared entries that do not
// exist are skipped.
func Discover(fs afero.Fs, root string, paths config.PathsConfig, logger *slog.Logger) (*Files, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	files := NewFiles()

	for _, dir := range paths.Directories {
		sourceDir := filepath.Join(root, filepath.FromSlash(dir))

		info, err := fs.Stat(sourceDir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("skipping missing directory", "directory", dir)
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", sourceDir, err)
		}
		if !info.IsDir() {
			logger.Debug("skipping directory entry that is not a directory", "directory", dir)
			continue
		}

		found, err := DiscoverAllFiles(fs, sourceDir)
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", sourceDir, err)
		}

		for _, sourcePath := range found {
			rel, err := RelativePath(sourceDir, sourcePath)
			if err != nil {
				return nil, fmt.Errorf("failed to compute relative path: %w", err)
			}
			files.Add(path.Join(dir, rel), sourcePath)
		}
	}

	for _, file := range paths.Files {
		sourcePath := filepath.Join(root, filepath.FromSlash(file))

		info, err := fs.Stat(sourcePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("skipping missing file", "file", file)
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", sourcePath, err)
		}
		if !info.Mode().IsRegular() {
			logger.Debug("skipping file entry that is not a regular file", "file", file)
			continue
		}

		files.Add(path.Clean(file), sourcePath)
	}

	return files, nil
}

// DiscoverAllFiles finds all regular files below dir, in lexical order.
// Hidden files and directories are included.
func DiscoverAllFiles(fs afero.Fs, dir string) ([]string, error) {
	var files []string

	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// RelativePath returns the forward-slash relative path from baseDir to target
func RelativePath(baseDir, target string) (string, error) {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
