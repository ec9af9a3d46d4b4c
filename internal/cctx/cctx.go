// Package cctx implements the evaluator's environment: a log handle, a
// command runner, a file reader, a clock, a temp-file maker, and special
// file path redirection for tests. Every builtin reaches the system
// through this seam, which is what lets the test suite exercise
// system-specific procedures without a privileged sandbox.
package cctx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/armon/circbuf"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

// maxCommandOutput bounds how much stdout/stderr a single command
// invocation may accumulate, so a runaway `journalctl`/`auditctl` call
// can't exhaust memory.
const maxCommandOutput = 1 << 20 // 1 MiB

// Logger is the minimal level-gated sink the engine writes through. The
// CLI front end wires it to the standard library log package; tests wire
// it to a buffer.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// CommandRunner abstracts process spawning so builtins never call
// os/exec directly.
type CommandRunner interface {
	Execute(ctx context.Context, name string, args ...string) status.Result[string]
}

// FileReader abstracts file content access.
type FileReader interface {
	GetFileContents(path string) status.Result[string]
}

// Clock abstracts wall-clock reads so package-cache TTL logic is testable.
type Clock interface {
	Now() time.Time
}

// Context is the evaluator's full environment, read-only during one
// evaluation pass.
type Context interface {
	Log() Logger
	CommandRunner
	FileReader
	Clock
	TempFile(pattern string) (string, error)
	GetSpecialFilePath(logical string) string
	Indicators() *indicators.Tree
}

// Option configures a Default context.
type Option func(*Default)

// WithSpecialFilePaths overrides logical->real path mappings, letting
// tests redirect "/etc/shadow"-style lookups without root.
func WithSpecialFilePaths(paths map[string]string) Option {
	return func(d *Default) {
		for k, v := range paths {
			d.specialPaths[k] = v
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l Logger) Option {
	return func(d *Default) { d.logger = l }
}

// WithClock overrides the clock, for deterministic TTL tests.
func WithClock(c Clock) Option {
	return func(d *Default) { d.clock = c }
}

// Default is the production Context implementation.
type Default struct {
	logger       Logger
	clock        Clock
	specialPaths map[string]string
	ind          *indicators.Tree
	retryPolicy  backoff.RetryPolicy
}

// New builds a Default context rooted at an indicator tree for ruleName.
func New(ruleName string, opts ...Option) *Default {
	d := &Default{
		logger:       stdLogger{},
		clock:        realClock{},
		specialPaths: make(map[string]string),
		ind:          indicators.New(ruleName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Log returns the context's logger.
func (d *Default) Log() Logger { return d.logger }

// Now returns the current time via the context's clock.
func (d *Default) Now() time.Time { return d.clock.Now() }

// Indicators returns the evidence tree this context writes through.
func (d *Default) Indicators() *indicators.Tree { return d.ind }

// GetSpecialFilePath resolves a logical path (e.g. "/etc/shadow") to its
// real on-disk location, honoring test overrides.
func (d *Default) GetSpecialFilePath(logical string) string {
	if real, ok := d.specialPaths[logical]; ok {
		return real
	}
	return logical
}

// GetFileContents reads a file's full contents, resolving it through
// GetSpecialFilePath first.
func (d *Default) GetFileContents(path string) status.Result[string] {
	real := d.GetSpecialFilePath(path)
	data, err := os.ReadFile(real)
	if err != nil {
		return status.Fail[string](status.NewSystemError("failed to read "+path, err))
	}
	return status.Ok(string(data))
}

// TempFile creates an empty temp file matching pattern and returns its
// path. Callers are responsible for removing it.
func (d *Default) TempFile(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return f.Name(), nil
}

// Execute runs name with args, capturing bounded stdout, retrying
// transient spawn failures (ENOMEM/EAGAIN-style fork failures under load)
// via exponential backoff.
func (d *Default) Execute(ctx context.Context, name string, args ...string) status.Result[string] {
	operation := func() (string, error) {
		cmd := exec.CommandContext(ctx, name, args...)

		stdout, err := circbuf.NewBuffer(maxCommandOutput)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		stderr, err := circbuf.NewBuffer(maxCommandOutput)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		cmd.Stdout = stdout
		cmd.Stderr = stderr

		runErr := cmd.Run()
		if runErr == nil {
			return stdout.String(), nil
		}

		if isTransientSpawnError(runErr) {
			return "", runErr
		}
		return "", backoff.Permanent(combineOutputErr(runErr, stderr))
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return status.Fail[string](status.NewSystemError("command '"+name+"' failed", err))
	}
	return status.Ok(out)
}

func combineOutputErr(runErr error, stderr *circbuf.Buffer) error {
	if stderr.TotalWritten() == 0 {
		return runErr
	}
	return &commandError{underlying: runErr, stderr: stderr.String()}
}

type commandError struct {
	underlying error
	stderr     string
}

func (e *commandError) Error() string {
	return e.underlying.Error() + ": " + e.stderr
}

func (e *commandError) Unwrap() error { return e.underlying }

// isTransientSpawnError reports whether err looks like a fork/exec failure
// worth retrying (as opposed to the subprocess itself exiting non-zero,
// which is a normal, non-transient outcome builtins interpret themselves).
func isTransientSpawnError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOMEM)
}

type stdLogger struct{}

func (stdLogger) Debugf(format string, args ...any) {}
func (stdLogger) Infof(format string, args ...any)  {}
func (stdLogger) Errorf(format string, args ...any) {}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// MockRunner is a test double satisfying CommandRunner by returning canned
// stdout for each registered command prefix. An exact match on the full
// command line wins; otherwise the longest registered key followed by a
// space at the start of the command line is used.
type MockRunner struct {
	Responses map[string]status.Result[string]
	Calls     []string
}

// Execute implements CommandRunner.
func (m *MockRunner) Execute(_ context.Context, name string, args ...string) status.Result[string] {
	key := name
	for _, a := range args {
		key += " " + a
	}
	m.Calls = append(m.Calls, key)
	if res, ok := m.Responses[key]; ok {
		return res
	}
	best, found := "", false
	for prefix := range m.Responses {
		if strings.HasPrefix(key, prefix+" ") && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if found {
		return m.Responses[best]
	}
	return status.Fail[string](status.NewSystemError("no mock response for command: "+key, nil))
}
