//go:build integration

package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/devsettings/internal/testutil"
)

const (
	packageDir     = "vendor/mikebronner/development-settings"
	shimLogName    = "composer.log"
	defaultTimeout = 5 * time.Minute
)

// Harness builds the devsettings binary and runs it against a scratch project
type Harness struct {
	t       *testing.T
	binary  string
	workDir string
	keep    bool
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	h := &Harness{t: t, keep: os.Getenv("INTEGRATION_KEEP_PROJECT") == "1"}
	if !h.keep {
		h.workDir = t.TempDir()
		return h
	}

	// t.TempDir is always removed, keep the project outside of it
	dir, err := os.MkdirTemp("", "devsettings-integration-*")
	if err != nil {
		t.Fatalf("create work dir: %v", err)
	}
	h.workDir = dir
	return h
}

// BuildBinary compiles cmd/devsettings into the work directory
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.workDir, "devsettings")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/devsettings")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// ProjectDir is the scratch project the binary syncs into
func (h *Harness) ProjectDir() string {
	return filepath.Join(h.workDir, "project")
}

// SourceDir is the vendored settings package inside the project
func (h *Harness) SourceDir() string {
	return filepath.Join(h.ProjectDir(), filepath.FromSlash(packageDir))
}

// ShimPath is the fake composer executable
func (h *Harness) ShimPath() string {
	return filepath.Join(h.workDir, "bin", "composer")
}

// InstallComposerShim writes a composer stand-in that logs its arguments
func (h *Harness) InstallComposerShim() error {
	h.t.Helper()
	script := fmt.Sprintf("#!/bin/sh\necho \"$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ) $*\" >> %s\n",
		filepath.Join(h.workDir, shimLogName))
	if err := os.MkdirAll(filepath.Dir(h.ShimPath()), 0755); err != nil {
		return err
	}
	return os.WriteFile(h.ShimPath(), []byte(script), 0755)
}

// Reset removes the project and the shim log
func (h *Harness) Reset() error {
	if err := os.RemoveAll(h.ProjectDir()); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(h.workDir, shimLogName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Cleanup removes a kept work directory unless the test failed
func (h *Harness) Cleanup() {
	h.t.Helper()
	if !h.keep {
		return
	}
	if h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_PROJECT=1, project left in %s", h.ProjectDir())
		return
	}
	_ = os.RemoveAll(h.workDir)
}

// Run executes devsettings with args in the project directory
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = h.ProjectDir()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes devsettings and fails the test on a non-zero exit
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes a file below the project directory
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	path := filepath.Join(h.ProjectDir(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// ReadFile reads a file below the project directory
func (h *Harness) ReadFile(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.ProjectDir(), filepath.FromSlash(rel)))
	if err != nil {
		h.t.Fatalf("read file: %v", err)
	}
	return string(data)
}

// RemoveFile deletes a file below the project directory
func (h *Harness) RemoveFile(rel string) {
	h.t.Helper()
	if err := os.Remove(filepath.Join(h.ProjectDir(), filepath.FromSlash(rel))); err != nil {
		h.t.Fatalf("remove file: %v", err)
	}
}

// FileExists checks if a path exists below the project directory
func (h *Harness) FileExists(rel string) bool {
	h.t.Helper()
	_, err := os.Stat(filepath.Join(h.ProjectDir(), filepath.FromSlash(rel)))
	return err == nil
}

// ReadShimLog reads and parses the composer shim log
func (h *Harness) ReadShimLog() ([]ShimLogEntry, error) {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.workDir, shimLogName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []ShimLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		// Parse: "2024-01-01T12:00:00Z update laravel/pint --dev --no-interaction"
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}

		entries = append(entries, ShimLogEntry{
			Timestamp: parts[0],
			Args:      strings.Fields(parts[1]),
		})
	}

	return entries, scanner.Err()
}

// ShimLogEntry represents a parsed composer shim log entry
type ShimLogEntry struct {
	Timestamp string
	Args      []string
}

// String returns a human-readable representation
func (e ShimLogEntry) String() string {
	return fmt.Sprintf("%s: composer %s", e.Timestamp, strings.Join(e.Args, " "))
}

// HasArgs checks if the entry starts with the given arguments
func (e ShimLogEntry) HasArgs(args ...string) bool {
	if len(e.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if e.Args[i] != arg {
			return false
		}
	}
	return true
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
