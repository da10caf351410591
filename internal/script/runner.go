// Package script runs the external model scripts a lip-sync pipeline delegates to.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultOutputLimit is the number of trailing output bytes kept for error reports.
const DefaultOutputLimit = 8 << 10

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 5 * time.Second

// ErrEmptyCommand is returned when a Command has no program name.
var ErrEmptyCommand = errors.New("script: command name is required")

// Command describes a single external process invocation.
type Command struct {
	// Name is the program to execute, resolved through PATH when it has no separator.
	Name string
	// Args are passed to the program verbatim.
	Args []string
	// Dir is the working directory. Empty means the runner's default.
	Dir string
}

// String renders the command line the way it would be typed in a shell.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes external commands and waits for them to exit.
type Runner interface {
	// Run executes cmd and returns nil only when it exits with status 0.
	// A non-zero exit is reported as *ExitError.
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	dir         string
	outputLimit int
	logger      *slog.Logger
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithDir sets the default working directory for commands that do not set one.
func WithDir(dir string) Option {
	return func(r *ExecRunner) {
		r.dir = dir
	}
}

// WithOutputLimit sets how many trailing bytes of output are kept for errors.
func WithOutputLimit(n int) Option {
	return func(r *ExecRunner) {
		if n > 0 {
			r.outputLimit = n
		}
	}
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner(logger *slog.Logger, opts ...Option) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ExecRunner{
		outputLimit: DefaultOutputLimit,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd, capturing the tail of its combined stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	if cmd.Name == "" {
		return ErrEmptyCommand
	}

	// #nosec G204 - program and flags are built by the engines, not taken from requests
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = r.dir
	}

	out := newTailBuffer(r.outputLimit)
	c.Stdout = out
	c.Stderr = out
	c.WaitDelay = waitDelay

	r.logger.Info("running external command",
		slog.String("command", cmd.String()),
		slog.String("dir", c.Dir),
	)

	err := c.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", cmd.Name, ctx.Err())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	r.logger.Warn("external command failed",
		slog.String("command", cmd.Name),
		slog.Int("exit_code", exitCode),
		slog.String("error", err.Error()),
	)

	return &ExitError{
		Command:  cmd,
		ExitCode: exitCode,
		Output:   out.String(),
		Err:      err,
	}
}

// ExitError reports an external command that could not start or exited non-zero.
type ExitError struct {
	Command  Command
	ExitCode int
	// Output is the tail of the command's combined output.
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", e.Command.String(), e.Err)
	if tail := strings.TrimSpace(e.Output); tail != "" {
		msg += "\noutput: " + tail
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// tailBuffer is an io.Writer that keeps only the last limit bytes written.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[len(p)-t.limit:])
		return n, nil
	}
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
