package report

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fatih/color"
)

func withoutColor(t *testing.T) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func TestRender(t *testing.T) {
	withoutColor(t)

	var buf bytes.Buffer
	err := NewRenderer(&buf).Render(Summary{
		Created:     []string{".ai/mcp.json"},
		Updated:     []string{"pint.json"},
		Modified:    []string{"phpcs.xml"},
		Removed:     []string{"old.yml"},
		DepsAdded:   []string{"laravel/pint"},
		DepsRemoved: []string{"old/tool"},
		Stats:       Stats{New: 2, Updated: 1, Unchanged: 3, Skipped: 1, Removed: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"Developer Settings",
		"+  .ai/mcp.json",
		"↻  pint.json",
		"⚠  phpcs.xml (locally modified)",
		"-  old.yml",
		"+  laravel/pint (composer)",
		"-  old/tool (composer)",
		" 2 new  ·  1 updated  ·  3 unchanged  ·  1 skipped  ·  2 removed ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	lines := strings.Split(strings.Trim(out, "\n"), "\n")
	for i, line := range lines {
		if n := utf8.RuneCountInString(line); n != Width {
			t.Errorf("line %d has width %d, want %d: %q", i, n, Width, line)
		}
	}

	// created, updated, modified, removed come in that order
	created := strings.Index(out, ".ai/mcp.json")
	removed := strings.Index(out, "old.yml")
	if created > removed {
		t.Error("created lines must precede removed lines")
	}
}

func TestRender_ZeroCountsAndDryRun(t *testing.T) {
	withoutColor(t)

	var buf bytes.Buffer
	if err := NewRenderer(&buf).Render(Summary{DryRun: true}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "Developer Settings (dry run)") {
		t.Errorf("missing dry run heading:\n%s", out)
	}
	if !strings.Contains(out, "0 new · 0 updated · 0 unchanged · 0 skipped · 0 removed") {
		t.Errorf("unexpected footer:\n%s", out)
	}
}

func TestRender_TruncatesLongPaths(t *testing.T) {
	withoutColor(t)

	long := strings.Repeat("a", 120) + ".md"
	var buf bytes.Buffer
	if err := NewRenderer(&buf).Render(Summary{Created: []string{long}}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Contains(out, long) {
		t.Error("expected long path to be truncated")
	}
	if !strings.Contains(out, "...") {
		t.Error("expected ellipsis")
	}
	for _, line := range strings.Split(strings.Trim(out, "\n"), "\n") {
		if n := utf8.RuneCountInString(line); n != Width {
			t.Errorf("line has width %d, want %d: %q", n, Width, line)
		}
	}
}

func TestHeaderThenFooter(t *testing.T) {
	withoutColor(t)

	var split, whole bytes.Buffer
	s := Summary{
		Modified: []string{"phpcs.xml"},
		Stats:    Stats{Skipped: 1},
	}

	r := NewRenderer(&split)
	if err := r.Header(s); err != nil {
		t.Fatal(err)
	}
	header := split.String()
	if !strings.Contains(header, "phpcs.xml (locally modified)") {
		t.Errorf("expected header to list the modified file:\n%s", header)
	}
	if strings.Contains(header, "1 skipped") || strings.Contains(header, "└") {
		t.Errorf("expected header to leave the box open:\n%s", header)
	}

	if err := r.Footer(s); err != nil {
		t.Fatal(err)
	}
	if err := NewRenderer(&whole).Render(s); err != nil {
		t.Fatal(err)
	}
	if split.String() != whole.String() {
		t.Errorf("header and footer should add up to the full box:\n%s\nvs\n%s", split.String(), whole.String())
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, map[string]string{"constraint": ">=1.0 <2.0"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `">=1.0 <2.0"`) {
		t.Errorf("expected unescaped output, got %s", buf.String())
	}
}
