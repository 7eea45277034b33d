// Package pattern compiles the glob patterns that select changed files for
// the post-sync hook.
//
// `*` matches any run of characters within one path segment, `**` matches
// any run including separators and `?` matches exactly one character, a
// separator included. Every other character is literal, so file names with
// brackets or braces match themselves.
package pattern

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Separator is the path separator of project-relative paths
const Separator = '/'

// Compile compiles p into a matcher for forward-slash relative paths
func Compile(p string) (glob.Glob, error) {
	g, err := glob.Compile(translate(p), Separator)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
	}
	return g, nil
}

// translate rewrites p into gobwas syntax
func translate(p string) string {
	var b strings.Builder
	for _, r := range p {
		switch r {
		case '?':
			// gobwas stops ? at the separator
			b.WriteString("{?,/}")
		case '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
