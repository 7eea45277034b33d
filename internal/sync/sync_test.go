package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"

	"github.com/schaermu/devsettings/internal/checksum"
	"github.com/schaermu/devsettings/internal/config"
	"github.com/schaermu/devsettings/internal/discovery"
	"github.com/schaermu/devsettings/internal/manifest"
	"github.com/schaermu/devsettings/internal/prompt"
	"github.com/schaermu/devsettings/internal/testutil"
)

const (
	projectRoot = "/project"
	sourceRoot  = "/project/vendor/mikebronner/development-settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// abortingConfirmer fails the batch prompt, as a Ctrl+C would
type abortingConfirmer struct{}

func (abortingConfirmer) Confirm(string) bool { return true }

func (abortingConfirmer) ConfirmAll([]string) (map[string]bool, error) {
	return nil, errors.New("interrupted")
}

func defaultPaths() config.PathsConfig {
	return config.PathsConfig{
		Directories: []string{".ai"},
		Files:       []string{"A", "B"},
	}
}

func newInput(fs afero.Fs, paths config.PathsConfig, m manifest.Manifest) Input {
	return Input{
		FS:          fs,
		Config:      &config.Config{Paths: paths},
		SourceRoot:  sourceRoot,
		ProjectRoot: projectRoot,
		Manifest:    m,
		Logger:      testLogger(),
	}
}

func discover(t *testing.T, fs afero.Fs, paths config.PathsConfig) *discovery.Files {
	t.Helper()
	files, err := discovery.Discover(fs, sourceRoot, paths, nil)
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestClassify(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{
		"new.txt":       "v2",
		"same.txt":      "v2",
		"ours.txt":      "v2",
		"theirs.txt":    "v2",
		"untracked.txt": "v2",
	})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{
		"same.txt":      "v2",
		"ours.txt":      "v1",
		"theirs.txt":    "user edit",
		"untracked.txt": "something else",
	})
	m := manifest.Manifest{
		"ours.txt":   {checksum.Bytes([]byte("v1")), checksum.Bytes([]byte("v2"))},
		"theirs.txt": {checksum.Bytes([]byte("v1"))},
	}

	paths := config.PathsConfig{Files: []string{"new.txt", "same.txt", "ours.txt", "theirs.txt", "untracked.txt"}}
	plan, err := Classify(fs, projectRoot, discover(t, fs, paths), m)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]Bucket{
		"new.txt":       BucketNew,
		"same.txt":      BucketUnchanged,
		"ours.txt":      BucketUpdatable,
		"theirs.txt":    BucketModified,
		"untracked.txt": BucketModified,
	}
	for dest, bucket := range want {
		got, ok := plan.Bucket(dest)
		if !ok {
			t.Errorf("%s not classified", dest)
			continue
		}
		if got != bucket {
			t.Errorf("%s: expected %s, got %s", dest, bucket, got)
		}
	}

	total := len(plan.New) + len(plan.Unchanged) + len(plan.Updatable) + len(plan.Modified)
	if total != len(want) {
		t.Errorf("expected %d classified files, got %d", len(want), total)
	}
}

func TestClassify_DirectoryAtDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"pint.json": "{}"})
	if err := fs.MkdirAll(filepath.Join(projectRoot, "pint.json"), 0755); err != nil {
		t.Fatal(err)
	}

	paths := config.PathsConfig{Files: []string{"pint.json"}}
	if _, err := Classify(fs, projectRoot, discover(t, fs, paths), manifest.New()); err == nil {
		t.Fatal("expected error when destination is a directory")
	}
}

func TestFindOrphans(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "a"})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{
		"A":            "a",
		"gone.txt":     "x",
		"nested/b.yml": "y",
	})
	if err := fs.MkdirAll(filepath.Join(projectRoot, "now-a-dir"), 0755); err != nil {
		t.Fatal(err)
	}

	m := manifest.Manifest{
		"A":             {"1"},
		"nested/b.yml":  {"2"},
		"gone.txt":      {"3"},
		"deleted.txt":   {"4"},
		"now-a-dir":     {"5"},
		"../escape.txt": {"6"},
		"./A":           {"7"},
	}

	orphans, err := FindOrphans(fs, projectRoot, discover(t, fs, config.PathsConfig{Files: []string{"A"}}), m)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"gone.txt", "nested/b.yml"}
	if !slices.Equal(orphans, want) {
		t.Errorf("expected %v, got %v", want, orphans)
	}
}

func TestSynchronize_FreshProject(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "alpha", "B": "beta"})

	out, err := Synchronize(context.Background(), newInput(fs, defaultPaths(), manifest.New()))
	if err != nil {
		t.Fatal(err)
	}

	if out.Report.Stats.New != 2 {
		t.Errorf("expected 2 new, got %+v", out.Report.Stats)
	}
	if !slices.Equal(out.Report.Created, []string{"A", "B"}) {
		t.Errorf("unexpected created list %v", out.Report.Created)
	}
	if got := testutil.ReadFile(t, fs, projectRoot, "A"); got != "alpha" {
		t.Errorf("A not copied, got %q", got)
	}
	if !out.Manifest.Contains("A", checksum.Bytes([]byte("alpha"))) {
		t.Errorf("manifest missing checksum of A: %v", out.Manifest)
	}
	if !out.Manifest.Contains("B", checksum.Bytes([]byte("beta"))) {
		t.Errorf("manifest missing checksum of B: %v", out.Manifest)
	}
}

func TestSynchronize_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{
		"A":                   "alpha",
		"B":                   "beta",
		".ai/guidelines/x.md": "x",
		".ai/mcp.json":        "{}",
	})

	first, err := Synchronize(context.Background(), newInput(fs, defaultPaths(), manifest.New()))
	if err != nil {
		t.Fatal(err)
	}
	if first.Report.Stats.New != 4 {
		t.Fatalf("expected 4 new on first run, got %+v", first.Report.Stats)
	}

	second, err := Synchronize(context.Background(), newInput(fs, defaultPaths(), first.Manifest))
	if err != nil {
		t.Fatal(err)
	}

	st := second.Report.Stats
	if st.New != 0 || st.Updated != 0 || st.Removed != 0 {
		t.Errorf("expected no changes on second run, got %+v", st)
	}
	if st.Unchanged != 4 {
		t.Errorf("expected 4 unchanged, got %d", st.Unchanged)
	}
	if len(second.Report.Changed) != 0 {
		t.Errorf("expected empty change list, got %v", second.Report.Changed)
	}
	if !second.Manifest.Equal(first.Manifest) {
		t.Errorf("manifest changed on idle run: %v -> %v", first.Manifest, second.Manifest)
	}
}

func TestSynchronize_PreservesLocalEdits(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "v2"})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{"A": "my edit"})
	m := manifest.Manifest{"A": {checksum.Bytes([]byte("v1"))}}

	for name, confirmer := range map[string]prompt.Confirmer{
		"non-interactive": prompt.NonInteractive{},
		"nil confirmer":   nil,
		"aborted prompt":  abortingConfirmer{},
	} {
		t.Run(name, func(t *testing.T) {
			in := newInput(fs, config.PathsConfig{Files: []string{"A"}}, m)
			in.Confirmer = confirmer

			out, err := Synchronize(context.Background(), in)
			if err != nil {
				t.Fatal(err)
			}

			if out.Report.Stats.Skipped != 1 {
				t.Errorf("expected 1 skipped, got %+v", out.Report.Stats)
			}
			if got := testutil.ReadFile(t, fs, projectRoot, "A"); got != "my edit" {
				t.Errorf("local edit overwritten, got %q", got)
			}
			if !out.Manifest.Equal(m) {
				t.Errorf("manifest changed for skipped file: %v", out.Manifest)
			}
			if !slices.Equal(out.Report.Modified, []string{"A"}) {
				t.Errorf("expected A to be reported as modified, got %v", out.Report.Modified)
			}
		})
	}
}

func TestSynchronize_ApprovedOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "v2", "B": "v2"})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{"A": "edit a", "B": "edit b"})

	in := newInput(fs, defaultPaths(), manifest.New())
	in.Confirmer = prompt.NewStatic(false, "B")

	out, err := Synchronize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	if got := testutil.ReadFile(t, fs, projectRoot, "A"); got != "edit a" {
		t.Errorf("A should be kept, got %q", got)
	}
	if got := testutil.ReadFile(t, fs, projectRoot, "B"); got != "v2" {
		t.Errorf("B should be overwritten, got %q", got)
	}
	if out.Report.Stats.Updated != 1 || out.Report.Stats.Skipped != 1 {
		t.Errorf("unexpected stats %+v", out.Report.Stats)
	}
	if !slices.Equal(out.Report.Changed, []string{"B"}) {
		t.Errorf("unexpected changed list %v", out.Report.Changed)
	}
	if !out.Manifest.Contains("B", checksum.Bytes([]byte("v2"))) {
		t.Error("approved overwrite must be recorded in the manifest")
	}
}

func TestSynchronize_HistoryAwareOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "v3"})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{"A": "v1"})
	m := manifest.Manifest{"A": {
		checksum.Bytes([]byte("v1")),
		checksum.Bytes([]byte("v2")),
	}}

	in := newInput(fs, config.PathsConfig{Files: []string{"A"}}, m)
	in.Confirmer = prompt.NewHuhWith(func(string, string, []string) ([]string, error) {
		t.Fatal("must not prompt for a file we wrote ourselves")
		return nil, nil
	})

	out, err := Synchronize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(out.Report.Updated, []string{"A"}) {
		t.Errorf("expected A updated, got %+v", out.Report)
	}
	if got := testutil.ReadFile(t, fs, projectRoot, "A"); got != "v3" {
		t.Errorf("expected v3, got %q", got)
	}

	want := []string{checksum.Bytes([]byte("v1")), checksum.Bytes([]byte("v2")), checksum.Bytes([]byte("v3"))}
	if !slices.Equal(out.Manifest.History("A"), want) {
		t.Errorf("expected history %v, got %v", want, out.Manifest.History("A"))
	}
	if len(m["A"]) != 2 {
		t.Error("input manifest must not be mutated")
	}
}

func TestSynchronize_PublishedKeysAreNormalised(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{
		"phpcs.xml":       "v2",
		manifest.FileName: `{"./phpcs.xml": ["` + checksum.Bytes([]byte("v1")) + `"]}`,
	})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{"phpcs.xml": "v1"})

	m := manifest.Load(fs, filepath.Join(sourceRoot, manifest.FileName))
	out, err := Synchronize(context.Background(), newInput(fs, config.PathsConfig{Files: []string{"phpcs.xml"}}, m))
	if err != nil {
		t.Fatal(err)
	}

	if len(out.Report.Removed) != 0 {
		t.Fatalf("discovered file must not be treated as an orphan, removed %v", out.Report.Removed)
	}
	if !slices.Equal(out.Report.Updated, []string{"phpcs.xml"}) {
		t.Errorf("expected phpcs.xml updated, got %+v", out.Report)
	}
	if got := testutil.ReadFile(t, fs, projectRoot, "phpcs.xml"); got != "v2" {
		t.Errorf("expected v2, got %q", got)
	}
}

func TestSynchronize_OrphanCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{
		"A":                 "alpha",
		".ai/old/deep/b.md": "b",
		".ai/keep.md":       "k",
	})

	first, err := Synchronize(context.Background(), newInput(fs, defaultPaths(), manifest.New()))
	if err != nil {
		t.Fatal(err)
	}

	// The source package stops shipping the nested file
	if err := fs.Remove(filepath.Join(sourceRoot, ".ai/old/deep/b.md")); err != nil {
		t.Fatal(err)
	}

	second, err := Synchronize(context.Background(), newInput(fs, defaultPaths(), first.Manifest))
	if err != nil {
		t.Fatal(err)
	}

	if second.Report.Stats.Removed != 1 {
		t.Errorf("expected removed=1, got %+v", second.Report.Stats)
	}
	if testutil.Exists(t, fs, projectRoot, ".ai/old/deep/b.md") {
		t.Error("orphan still on disk")
	}
	if testutil.Exists(t, fs, projectRoot, ".ai/old") {
		t.Error("empty ancestor directories should be pruned")
	}
	if !testutil.Exists(t, fs, projectRoot, ".ai/keep.md") {
		t.Error("non-empty directory content must survive")
	}
	if _, ok := second.Manifest[".ai/old/deep/b.md"]; ok {
		t.Error("orphan manifest entry should be removed")
	}
	if !slices.Equal(second.Report.Changed, []string{".ai/old/deep/b.md"}) {
		t.Errorf("unexpected changed list %v", second.Report.Changed)
	}
}

func TestSynchronize_SourceStopsDeclaringFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "alpha", "B": "beta"})

	first, err := Synchronize(context.Background(), newInput(fs, defaultPaths(), manifest.New()))
	if err != nil {
		t.Fatal(err)
	}

	second, err := Synchronize(context.Background(), newInput(fs, config.PathsConfig{Files: []string{"A"}}, first.Manifest))
	if err != nil {
		t.Fatal(err)
	}

	if second.Report.Stats.Removed != 1 {
		t.Errorf("expected removed=1, got %+v", second.Report.Stats)
	}
	if testutil.Exists(t, fs, projectRoot, "B") {
		t.Error("B should be deleted")
	}
	if !testutil.Exists(t, fs, projectRoot, "A") {
		t.Error("A must not be touched")
	}
	if _, ok := second.Manifest["B"]; ok {
		t.Error("manifest entry for B should be removed")
	}
	if !testutil.Exists(t, fs, projectRoot, "") {
		t.Error("project root must never be pruned")
	}
}

func TestSynchronize_ChangedOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{
		"new.txt":    "v2",
		"ours.txt":   "v2",
		"theirs.txt": "v2",
	})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{
		"ours.txt":   "v1",
		"theirs.txt": "edit",
		"orphan.txt": "o",
	})
	m := manifest.Manifest{
		"ours.txt":   {checksum.Bytes([]byte("v1"))},
		"orphan.txt": {checksum.Bytes([]byte("o"))},
	}

	// modified is declared first but applied after updatable
	in := newInput(fs, config.PathsConfig{Files: []string{"theirs.txt", "ours.txt", "new.txt"}}, m)
	in.Confirmer = prompt.NewStatic(true)

	out, err := Synchronize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"new.txt", "ours.txt", "theirs.txt", "orphan.txt"}
	if !slices.Equal(out.Report.Changed, want) {
		t.Errorf("expected %v, got %v", want, out.Report.Changed)
	}
}

func TestSynchronize_DryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "v2"})
	testutil.WriteTree(t, fs, projectRoot, map[string]string{"B": "old", "C": "edit"})
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"C": "v2"})
	m := manifest.Manifest{"B": {checksum.Bytes([]byte("old"))}}

	in := newInput(fs, config.PathsConfig{Files: []string{"A", "C"}}, m)
	in.DryRun = true
	in.Confirmer = prompt.NewStatic(true)

	out, err := Synchronize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	if out.Report.Stats.New != 1 || out.Report.Stats.Removed != 1 || out.Report.Stats.Skipped != 1 {
		t.Errorf("unexpected stats %+v", out.Report.Stats)
	}
	if testutil.Exists(t, fs, projectRoot, "A") {
		t.Error("dry run must not copy")
	}
	if !testutil.Exists(t, fs, projectRoot, "B") {
		t.Error("dry run must not delete")
	}
	if got := testutil.ReadFile(t, fs, projectRoot, "C"); got != "edit" {
		t.Error("dry run must not overwrite")
	}
}

func TestSynchronize_MissingDeclarationsAreSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "alpha"})

	paths := config.PathsConfig{
		Directories: []string{".php-codesniffer"},
		Files:       []string{"A", "phpmd.xml"},
	}
	out, err := Synchronize(context.Background(), newInput(fs, paths, manifest.New()))
	if err != nil {
		t.Fatal(err)
	}
	if out.Report.Stats.New != 1 {
		t.Errorf("expected only A to be created, got %+v", out.Report.Stats)
	}
}

func TestSynchronize_CancelledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"A": "alpha"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Synchronize(ctx, newInput(fs, defaultPaths(), manifest.New())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if testutil.Exists(t, fs, projectRoot, "A") {
		t.Error("nothing should be copied after cancellation")
	}
}

func TestCopyFile_PreservesMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, sourceRoot, map[string]string{"bin/tool": "#!/bin/sh\n"})
	src := filepath.Join(sourceRoot, "bin/tool")
	if err := fs.Chmod(src, 0755); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(projectRoot, "deep/nested/tool")
	if err := copyFile(fs, src, dst); err != nil {
		t.Fatal(err)
	}

	info, err := fs.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("expected mode 0755, got %v", info.Mode().Perm())
	}

	entries, err := afero.ReadDir(fs, filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestPruneEmptyDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, projectRoot, map[string]string{"a/keep.txt": "k"})
	if err := fs.MkdirAll(filepath.Join(projectRoot, "a/b/c"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := pruneEmptyDirs(fs, filepath.Join(projectRoot, "a/b/c"), projectRoot); err != nil {
		t.Fatal(err)
	}

	if testutil.Exists(t, fs, projectRoot, "a/b") {
		t.Error("a/b should be removed")
	}
	if !testutil.Exists(t, fs, projectRoot, "a") {
		t.Error("a is not empty and must stay")
	}

	// Stops at the root even when everything is empty
	empty := "/empty-project"
	if err := fs.MkdirAll(filepath.Join(empty, "x/y"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := pruneEmptyDirs(fs, filepath.Join(empty, "x/y"), empty); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.DirExists(fs, empty); !ok {
		t.Error("root must not be removed")
	}
	if ok, _ := afero.DirExists(fs, filepath.Join(empty, "x")); ok {
		t.Error("x should be removed")
	}
}
