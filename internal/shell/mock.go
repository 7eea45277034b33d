package shell

import (
	"context"
	"strings"
)

// Call records a single command invocation
type Call struct {
	Dir     string
	Command string // "name arg1 arg2 ..." or the raw shell command
	Shell   bool
}

// MockRunner implements Runner for testing.
// Records all command invocations and returns pre-configured exit codes.
type MockRunner struct {
	// codes maps a command string to the exit code it should report
	codes map[string]int

	// Calls records all command invocations in order.
	Calls []Call
}

// NewMockRunner creates a mock where every command succeeds unless
// configured otherwise.
func NewMockRunner() *MockRunner {
	return &MockRunner{codes: make(map[string]int)}
}

// Fail makes cmd report the given exit code.
func (m *MockRunner) Fail(cmd string, code int) *MockRunner {
	m.codes[cmd] = code
	return m
}

// Shell implements Runner.
func (m *MockRunner) Shell(_ context.Context, dir, command string) Result {
	m.Calls = append(m.Calls, Call{Dir: dir, Command: command, Shell: true})
	return m.result(command)
}

// Exec implements Runner.
func (m *MockRunner) Exec(_ context.Context, dir, name string, args ...string) Result {
	key := name
	if len(args) > 0 {
		key = name + " " + strings.Join(args, " ")
	}
	m.Calls = append(m.Calls, Call{Dir: dir, Command: key})
	return m.result(key)
}

// Commands returns the recorded command strings in order.
func (m *MockRunner) Commands() []string {
	out := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, c.Command)
	}
	return out
}

func (m *MockRunner) result(key string) Result {
	code, ok := m.codes[key]
	if !ok || code == 0 {
		return Result{Command: key}
	}
	return Result{Command: key, ExitCode: code}
}
