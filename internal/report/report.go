// Package report renders the summary printed after a synchronization run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Width is the total width of the summary box in columns
const Width = 80

const title = "Developer Settings"

var (
	borderColor    = color.New(color.FgHiBlack)
	titleColor     = color.New(color.FgCyan)
	createdColor   = color.New(color.FgGreen)
	updatedColor   = color.New(color.FgYellow)
	modifiedColor  = color.New(color.FgYellow)
	removedColor   = color.New(color.FgMagenta)
	zeroCountColor = color.New(color.FgHiBlack)
)

// Stats are the counts shown in the footer
type Stats struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Removed   int `json:"removed"`
}

// Summary is everything the box shows
type Summary struct {
	DryRun      bool
	Created     []string
	Updated     []string
	Modified    []string
	Removed     []string
	DepsAdded   []string
	DepsRemoved []string
	Stats       Stats
}

type lineKind int

const (
	kindCreated lineKind = iota
	kindUpdated
	kindModified
	kindRemoved
	kindDepAdded
	kindDepRemoved
)

type lineFormat struct {
	icon   string
	color  *color.Color
	suffix string
}

var formats = map[lineKind]lineFormat{
	kindCreated:    {icon: "+", color: createdColor},
	kindUpdated:    {icon: "↻", color: updatedColor},
	kindModified:   {icon: "⚠", color: modifiedColor, suffix: " (locally modified)"},
	kindRemoved:    {icon: "-", color: removedColor},
	kindDepAdded:   {icon: "+", color: createdColor, suffix: " (composer)"},
	kindDepRemoved: {icon: "-", color: removedColor, suffix: " (composer)"},
}

// Renderer writes the boxed summary
type Renderer struct {
	w io.Writer
}

// NewRenderer creates a renderer writing to w
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Render writes s as an 80 column box
func (r *Renderer) Render(s Summary) error {
	if err := r.Header(s); err != nil {
		return err
	}
	return r.Footer(s)
}

// Header writes the top of the box with one line per pending change. It is
// printed before asking about locally modified files.
func (r *Renderer) Header(s Summary) error {
	var b strings.Builder

	heading := title
	if s.DryRun {
		heading += " (dry run)"
	}

	b.WriteString("\n")
	b.WriteString(borderColor.Sprint("┌" + strings.Repeat("─", Width-2) + "┐"))
	b.WriteString("\n")
	b.WriteString(r.row(titleColor.Sprint(heading), runeLen(heading)))
	b.WriteString(r.separator())

	groups := []struct {
		kind  lineKind
		items []string
	}{
		{kindCreated, s.Created},
		{kindUpdated, s.Updated},
		{kindModified, s.Modified},
		{kindRemoved, s.Removed},
		{kindDepAdded, s.DepsAdded},
		{kindDepRemoved, s.DepsRemoved},
	}
	for _, g := range groups {
		for _, item := range g.items {
			b.WriteString(r.line(g.kind, item))
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

// Footer closes the box with the summary counts
func (r *Renderer) Footer(s Summary) error {
	var b strings.Builder

	b.WriteString(r.separator())
	footer, footerLen := r.footer(s.Stats)
	b.WriteString(r.row(footer, footerLen))
	b.WriteString(borderColor.Sprint("└" + strings.Repeat("─", Width-2) + "┘"))
	b.WriteString("\n\n")

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) separator() string {
	return borderColor.Sprint("├"+strings.Repeat("─", Width-2)+"┤") + "\n"
}

// row frames content whose printable width is visible
func (r *Renderer) row(content string, visible int) string {
	padding := Width - 6 - visible
	if padding < 1 {
		padding = 1
	}
	return borderColor.Sprint("│") + "  " + content + strings.Repeat(" ", padding) + "  " + borderColor.Sprint("│") + "\n"
}

func (r *Renderer) line(kind lineKind, item string) string {
	f := formats[kind]
	display := item + f.suffix

	// icon, two spaces, and at least one space of padding
	maxLen := Width - 6 - 1 - 2 - 1
	if runeLen(display) > maxLen {
		display = string([]rune(display)[:maxLen-3]) + "..."
	}

	content := f.color.Sprint(f.icon) + "  " + display
	return r.row(content, 1+2+runeLen(display))
}

func (r *Renderer) footer(st Stats) (string, int) {
	items := []struct {
		count int
		label string
		clr   *color.Color
	}{
		{st.New, "new", color.New(color.FgHiGreen, color.BgGreen)},
		{st.Updated, "updated", color.New(color.FgHiYellow, color.BgYellow)},
		{st.Unchanged, "unchanged", color.New(color.FgWhite, color.BgHiBlack)},
		{st.Skipped, "skipped", color.New(color.FgHiRed, color.BgRed)},
		{st.Removed, "removed", color.New(color.FgHiMagenta, color.BgMagenta)},
	}

	parts := make([]string, 0, len(items))
	plain := make([]string, 0, len(items))
	for _, it := range items {
		text := fmt.Sprintf("%d %s", it.count, it.label)
		if it.count == 0 {
			parts = append(parts, zeroCountColor.Sprint(text))
			plain = append(plain, text)
			continue
		}
		parts = append(parts, it.clr.Sprint(" "+text+" "))
		plain = append(plain, " "+text+" ")
	}

	sep := " · "
	return strings.Join(parts, sep), runeLen(strings.Join(plain, sep))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// JSON writes v as indented JSON
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
