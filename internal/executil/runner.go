package executil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner abstracts external command execution so discovery and apply logic
// can be exercised against canned output in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec and captures stdout.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run executes the command and returns its stdout. Stderr is folded into the
// error on failure.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.logger.Debug("running command", "name", name, "args", args)

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return stdout.Bytes(), nil
}

// CommandLine renders a command invocation as a single display string.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// FakeResponse is a scripted reply for one command line.
type FakeResponse struct {
	Output []byte
	Err    error
}

// FakeRunner replays scripted responses keyed by the full command line.
// Unscripted commands fail, so tests notice unexpected invocations.
type FakeRunner struct {
	Responses map[string]FakeResponse
	Calls     []string
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: make(map[string]FakeResponse)}
}

// Script registers a response for the given command line.
func (f *FakeRunner) Script(line string, output []byte, err error) {
	f.Responses[line] = FakeResponse{Output: output, Err: err}
}

// Run records the call and returns the scripted response.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := CommandLine(name, args...)
	f.Calls = append(f.Calls, line)

	resp, ok := f.Responses[line]
	if !ok {
		return nil, fmt.Errorf("unscripted command: %s", line)
	}
	return resp.Output, resp.Err
}
