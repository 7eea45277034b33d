// Package manifest persists the checksum history of every published file.
//
// The manifest maps a project-relative destination path to the ordered set
// of checksums ever written to that path by devsettings. A local file whose
// checksum appears in that history was last written by us, not edited by the
// user, and is therefore safe to overwrite.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"

	"github.com/spf13/afero"
)

// FileName is the manifest document name inside the source package.
const FileName = "manifest.json"

// Manifest maps destination paths to their checksum history
type Manifest map[string][]string

// New returns an empty manifest
func New() Manifest {
	return make(Manifest)
}

// Load reads the manifest at path. A missing, unreadable or malformed
// document yields an empty manifest; the history is advisory and must never
// fail a run.
func Load(fs afero.Fs, path string) Manifest {
	m, err := LoadStrict(fs, path)
	if err != nil {
		return New()
	}
	return m
}

// LoadStrict reads the manifest at path and reports why it could not be
// used. A missing document is not an error.
func LoadStrict(fs afero.Fs, path string) (Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := New()
	for _, key := range sortedKeys(raw) {
		dest := CleanPath(key)
		for _, sum := range raw[key] {
			m.Record(dest, sum)
		}
		if _, ok := m[dest]; !ok {
			m[dest] = []string{}
		}
	}
	return m, nil
}

// CleanPath normalises a destination key the way discovery builds them,
// without a "./" prefix or doubled separators. Keys that collapse onto the
// same path share one history.
func CleanPath(dest string) string {
	return path.Clean(dest)
}

func sortedKeys(raw map[string][]string) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the manifest to path through a temp file and rename, so an
// interrupted write leaves the previous document intact.
func Save(fs afero.Fs, path string, m Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmpFile, err := afero.TempFile(fs, dir, ".devsettings-manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := fs.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set manifest permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	return nil
}

// Marshal renders the manifest as pretty-printed JSON with sorted keys.
func (m Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")

	doc := m
	if doc == nil {
		doc = New()
	}
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Record appends sum to the history of path unless it is already there.
// It reports whether the history changed.
func (m Manifest) Record(path, sum string) bool {
	if m.Contains(path, sum) {
		return false
	}
	m[path] = append(m[path], sum)
	return true
}

// Contains reports whether sum was ever recorded for path
func (m Manifest) Contains(path, sum string) bool {
	return slices.Contains(m[path], sum)
}

// History returns the recorded checksums of path, oldest first
func (m Manifest) History(path string) []string {
	return m[path]
}

// Latest returns the most recently recorded checksum of path
func (m Manifest) Latest(path string) (string, bool) {
	sums := m[path]
	if len(sums) == 0 {
		return "", false
	}
	return sums[len(sums)-1], true
}

// Remove drops path and its whole history
func (m Manifest) Remove(path string) {
	delete(m, path)
}

// Paths returns every tracked destination path in lexical order
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy of the manifest
func (m Manifest) Clone() Manifest {
	c := make(Manifest, len(m))
	for path, sums := range m {
		c[path] = slices.Clone(sums)
	}
	return c
}

// Equal reports whether both manifests hold the same histories
func (m Manifest) Equal(other Manifest) bool {
	return maps.EqualFunc(m, other, slices.Equal[[]string])
}
