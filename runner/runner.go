// Package runner executes external commands for the sweep. Every command is
// echoed to the controlling output stream before it runs; in dry-run mode the
// echo is all that happens.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ExitError is returned when a command exits with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Runner runs commands synchronously or asynchronously.
type Runner struct {
	logger  zerolog.Logger
	echo    io.Writer
	stdout  io.Writer
	stderr  io.Writer
	dryRun  bool
	timeout time.Duration
}

// Option is a function that configures a Runner.
type Option func(*Runner)

// WithEcho sets the stream commands are echoed to.
func WithEcho(w io.Writer) Option {
	return func(r *Runner) {
		r.echo = w
	}
}

// WithOutput sets the streams of commands without an output redirect.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithDryRun makes the runner print commands without executing them.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// WithTimeout bounds every command. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// New creates a runner that echoes to stdout.
func New(logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger: logger,
		echo:   os.Stdout,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DryRun reports whether commands are only printed.
func (r *Runner) DryRun() bool {
	return r.dryRun
}

// Run executes the command and waits for it to finish.
func (r *Runner) Run(ctx context.Context, c Command) error {
	h, err := r.Start(ctx, c)
	if err != nil {
		return err
	}
	return h.Wait()
}

// Start launches the command without waiting for it. The returned handle
// must be waited on.
func (r *Runner) Start(ctx context.Context, c Command) (*Handle, error) {
	rendered := c.String()
	fmt.Fprintln(r.echo, rendered)

	h := &Handle{command: rendered, timeout: r.timeout}
	if r.dryRun {
		return h, nil
	}
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if r.timeout > 0 {
		h.ctx, h.cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		h.ctx, h.cancel = context.WithCancel(ctx)
	}

	argv := c.argv()
	cmd := exec.CommandContext(h.ctx, argv[0], argv[1:]...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin + "\n")
	}
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if c.Output != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if c.Truncate {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		f, err := os.OpenFile(c.Output, flags, 0644)
		if err != nil {
			h.cancel()
			return nil, fmt.Errorf("failed to open output %s: %w", c.Output, err)
		}
		h.output = f
		cmd.Stdout = f
		if !c.StdoutOnly {
			cmd.Stderr = f
		}
	}

	r.logger.Debug().Strs("argv", argv).Str("output", c.Output).Msg("Starting command")

	if err := cmd.Start(); err != nil {
		h.release()
		return nil, fmt.Errorf("failed to start %q: %w", rendered, err)
	}
	h.cmd = cmd
	return h, nil
}

// Spawn starts a daemon that outlives the step that launched it. The daemon
// is not bounded by the step timeout and is reaped in the background.
func (r *Runner) Spawn(ctx context.Context, c Command) error {
	daemon := *r
	daemon.timeout = 0
	h, err := daemon.Start(context.WithoutCancel(ctx), c)
	if err != nil {
		return err
	}
	go func() {
		if err := h.Wait(); err != nil {
			r.logger.Warn().Err(err).Msg("Daemon exited")
		}
	}()
	return nil
}

// Handle is a started command.
type Handle struct {
	command string
	timeout time.Duration
	cmd     *exec.Cmd
	output  *os.File
	ctx     context.Context
	cancel  context.CancelFunc
}

// Command returns the rendered command line.
func (h *Handle) Command() string {
	return h.command
}

// Wait blocks until the command exits. Dry-run handles succeed immediately.
func (h *Handle) Wait() error {
	if h.cmd == nil {
		return nil
	}
	defer h.release()

	err := h.cmd.Wait()
	if err == nil {
		return nil
	}
	if errors.Is(h.ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("command %q timed out after %s: %w", h.command, h.timeout, context.DeadlineExceeded)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: h.command, Code: exitErr.ExitCode(), Err: err}
	}
	return fmt.Errorf("failed to run %q: %w", h.command, err)
}

func (h *Handle) release() {
	if h.output != nil {
		h.output.Close()
		h.output = nil
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// AppendLine appends a line to a file the engine owns. The write is echoed
// like a command and skipped in dry-run mode.
func (r *Runner) AppendLine(path, line string) error {
	fmt.Fprintln(r.echo, Command{Args: []string{"echo", line}, Output: path, StdoutOnly: true}.String())
	if r.dryRun {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}
