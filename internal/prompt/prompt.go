// Package prompt decides whether locally modified files may be overwritten.
package prompt

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

const (
	// Title is shown above the list of locally modified files
	Title = "Overwrite locally modified files?"
	// Hint explains the multi-select key bindings
	Hint = "Space to toggle, Enter to confirm."
)

// Confirmer answers yes/no for a single destination path
type Confirmer interface {
	Confirm(path string) bool
}

// BatchConfirmer asks about several paths at once.
// An error means the user aborted and every path must be skipped.
type BatchConfirmer interface {
	Confirmer
	ConfirmAll(paths []string) (map[string]bool, error)
}

// Decide collects an answer for every path, using a single batch prompt
// when c supports it. Paths missing from the result are denied.
func Decide(c Confirmer, paths []string) (map[string]bool, error) {
	answers := make(map[string]bool, len(paths))
	if len(paths) == 0 || c == nil {
		return answers, nil
	}

	if bc, ok := c.(BatchConfirmer); ok {
		got, err := bc.ConfirmAll(paths)
		if err != nil {
			return answers, err
		}
		for _, p := range paths {
			answers[p] = got[p]
		}
		return answers, nil
	}

	for _, p := range paths {
		answers[p] = c.Confirm(p)
	}
	return answers, nil
}

// NonInteractive never approves an overwrite
type NonInteractive struct{}

// Confirm implements Confirmer
func (NonInteractive) Confirm(string) bool { return false }

// Static answers from a fixed policy
type Static struct {
	all   bool
	allow map[string]bool
}

// NewStatic approves every path when all is set, otherwise only the listed ones.
func NewStatic(all bool, allow ...string) *Static {
	s := &Static{all: all, allow: make(map[string]bool, len(allow))}
	for _, p := range allow {
		s.allow[p] = true
	}
	return s
}

// Confirm implements Confirmer
func (s *Static) Confirm(path string) bool {
	return s.all || s.allow[path]
}

// MultiSelectFunc presents options and returns the selected subset.
type MultiSelectFunc func(title, hint string, options []string) ([]string, error)

// Huh prompts with a charmbracelet/huh multi-select.
type Huh struct {
	selectFn MultiSelectFunc
}

// NewHuh creates a terminal confirmer
func NewHuh() *Huh {
	return &Huh{selectFn: huhMultiSelect}
}

// NewHuhWith creates a confirmer backed by fn instead of a terminal form
func NewHuhWith(fn MultiSelectFunc) *Huh {
	return &Huh{selectFn: fn}
}

// Confirm implements Confirmer
func (h *Huh) Confirm(path string) bool {
	answers, err := h.ConfirmAll([]string{path})
	if err != nil {
		return false
	}
	return answers[path]
}

// ConfirmAll implements BatchConfirmer
func (h *Huh) ConfirmAll(paths []string) (map[string]bool, error) {
	answers := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return answers, nil
	}

	selected, err := h.selectFn(Title, Hint, paths)
	if err != nil {
		return answers, err
	}

	offered := make(map[string]bool, len(paths))
	for _, p := range paths {
		offered[p] = true
	}
	for _, s := range selected {
		if offered[s] {
			answers[s] = true
		}
	}
	return answers, nil
}

func huhMultiSelect(title, hint string, options []string) ([]string, error) {
	var selected []string
	err := huh.NewMultiSelect[string]().
		Title(title).
		Description(hint).
		Options(huh.NewOptions(options...)...).
		Value(&selected).
		Run()
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// IsInteractive reports whether both stdin and stdout are terminals
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
