// Package composer merges declared dev dependencies into a project's
// composer.json and runs the matching composer commands.
package composer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// FileName is the dependency declaration file in the project root
const FileName = "composer.json"

const requireDevKey = "require-dev"

// ErrInvalidComposerFile is returned when composer.json cannot be read or
// does not have the expected shape.
var ErrInvalidComposerFile = errors.New("invalid composer file")

// Spec declares the dev dependencies a project should and should not have
type Spec struct {
	Install map[string]string
	Remove  []string
}

// Result partitions a Spec against the current require-dev section
type Result struct {
	ToInstall map[string]string `json:"to_install"`
	Unchanged map[string]string `json:"unchanged"`
	ToRemove  []string          `json:"to_remove"`
	Absent    []string          `json:"absent"`
}

func newResult() *Result {
	return &Result{
		ToInstall: map[string]string{},
		Unchanged: map[string]string{},
		ToRemove:  []string{},
		Absent:    []string{},
	}
}

// Pending reports whether the merge changed require-dev
func (r *Result) Pending() bool {
	return r != nil && (len(r.ToInstall) > 0 || len(r.ToRemove) > 0)
}

// InstallNames returns the sorted package names to install
func (r *Result) InstallNames() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.ToInstall)
}

// Run scopes the merge guard to a single synchronization run. Once a merge
// has written composer.json, further merges on the same Run are no-ops.
type Run struct {
	ID       uuid.UUID
	injected bool
}

// NewRun starts a new run scope
func NewRun() *Run {
	return &Run{ID: uuid.New()}
}

// Injected reports whether this run already rewrote composer.json
func (r *Run) Injected() bool {
	return r.injected
}

// Merger rewrites the require-dev section of a composer.json
type Merger struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewMerger creates a merger for the composer.json at path
func NewMerger(fs afero.Fs, path string, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Merger{fs: fs, path: path, logger: logger}
}

// Prepare merges spec into require-dev. The file is only written when a
// package is added or removed; dryRun computes the result without writing
// and without arming the guard.
func (m *Merger) Prepare(run *Run, spec Spec, dryRun bool) (*Result, error) {
	if run != nil && run.injected {
		m.logger.Debug("dependencies already merged in this run", "run_id", run.ID)
		return newResult(), nil
	}

	for _, w := range CheckConstraints(spec.Install) {
		m.logger.Warn("unrecognised version constraint", "package", w.Package, "constraint", w.Constraint, "error", w.Err)
	}

	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidComposerFile, m.path, err)
	}

	doc := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidComposerFile, m.path, err)
	}

	requireDev, err := decodeRequireDev(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidComposerFile, m.path, err)
	}

	result := newResult()
	for _, pkg := range sortedKeys(spec.Install) {
		constraint := spec.Install[pkg]
		if _, ok := requireDev[pkg]; ok {
			result.Unchanged[pkg] = constraint
			continue
		}
		result.ToInstall[pkg] = constraint
		requireDev[pkg] = mustMarshalString(constraint)
	}
	for _, pkg := range spec.Remove {
		if _, ok := requireDev[pkg]; !ok {
			result.Absent = append(result.Absent, pkg)
			continue
		}
		result.ToRemove = append(result.ToRemove, pkg)
		delete(requireDev, pkg)
	}
	sort.Strings(result.ToRemove)
	sort.Strings(result.Absent)

	if !result.Pending() || dryRun {
		return result, nil
	}

	doc.Set(requireDevKey, encodeObject(requireDev))
	out, err := Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.path, err)
	}
	if err := writeFile(m.fs, m.path, out); err != nil {
		return nil, err
	}

	if run != nil {
		run.injected = true
	}
	m.logger.Info("updated dev dependencies",
		"path", m.path,
		"added", len(result.ToInstall),
		"removed", len(result.ToRemove))

	return result, nil
}

func decodeRequireDev(doc *orderedmap.OrderedMap[string, json.RawMessage]) (map[string]json.RawMessage, error) {
	requireDev := map[string]json.RawMessage{}
	raw, ok := doc.Get(requireDevKey)
	if !ok {
		return requireDev, nil
	}

	trimmed := bytes.TrimSpace(raw)
	// PHP encodes an empty require-dev as a list
	if bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null")) {
		return requireDev, nil
	}
	if err := json.Unmarshal(trimmed, &requireDev); err != nil {
		return nil, fmt.Errorf("%s must be an object: %v", requireDevKey, err)
	}
	return requireDev, nil
}

// Marshal encodes doc with its key order intact, 4-space indentation,
// unescaped slashes and HTML characters, and a trailing newline.
func Marshal(doc *orderedmap.OrderedMap[string, json.RawMessage]) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('{')
	i := 0
	for pair := doc.Oldest(); pair != nil; pair = pair.Next() {
		if i > 0 {
			compact.WriteByte(',')
		}
		compact.Write(mustMarshalString(pair.Key))
		compact.WriteByte(':')
		if len(bytes.TrimSpace(pair.Value)) == 0 {
			compact.WriteString("null")
		} else {
			compact.Write(pair.Value)
		}
		i++
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// encodeObject renders m as a JSON object with sorted keys
func encodeObject(m map[string]json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range sortedKeys(m) {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(mustMarshalString(k))
		buf.WriteByte(':')
		buf.Write(bytes.TrimSpace(m[k]))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func mustMarshalString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding a string cannot fail
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func writeFile(fs afero.Fs, path string, data []byte) error {
	perm := os.FileMode(0o644)
	if info, err := fs.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := afero.WriteFile(fs, path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ConstraintWarning describes a constraint semver cannot parse
type ConstraintWarning struct {
	Package    string
	Constraint string
	Err        error
}

// CheckConstraints returns a warning for each constraint that does not
// parse as a semantic version range. Composer accepts more forms (branch
// aliases, stability flags), so these are never fatal.
func CheckConstraints(install map[string]string) []ConstraintWarning {
	var warnings []ConstraintWarning
	for _, pkg := range sortedKeys(install) {
		if _, err := semver.NewConstraint(install[pkg]); err != nil {
			warnings = append(warnings, ConstraintWarning{Package: pkg, Constraint: install[pkg], Err: err})
		}
	}
	return warnings
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
