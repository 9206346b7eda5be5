package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	DefaultWaitDelay      = 2 * time.Second

	windowsCommand = "python"
	posixCommand   = "python3"
)

// Runner executes one scoring request and returns the raw process output.
type Runner interface {
	Run(ctx context.Context, req []byte) (*Output, error)
}

// Output is what a scoring process left behind once it terminated.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ProcessConfig describes how to launch the scoring process.
type ProcessConfig struct {
	// Command is the model runtime executable. Defaults to DefaultCommand().
	Command string
	// Args are passed to Command, typically the model script path.
	Args []string
	// Dir is the working directory of the process.
	Dir string
	// Env, when set, replaces the inherited environment.
	Env []string
	// Timeout bounds the life of each process. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxOutputBytes caps what is kept from each output stream.
	MaxOutputBytes int
	// WaitDelay bounds how long to wait for output pipes after the process exits.
	WaitDelay time.Duration
}

// DefaultCommand returns the model runtime executable for the host platform.
func DefaultCommand() string {
	return commandFor(runtime.GOOS)
}

func commandFor(goos string) string {
	if goos == "windows" {
		return windowsCommand
	}
	return posixCommand
}

// ProcessRunner spawns a new process for every Run call.
type ProcessRunner struct {
	cfg ProcessConfig
}

func NewProcessRunner(cfg ProcessConfig) *ProcessRunner {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	return &ProcessRunner{cfg: cfg}
}

// Run starts the process, writes req to its stdin and closes it, drains
// stdout and stderr concurrently, and waits for the process to exit.
// The process is killed if ctx is done or the timeout expires first.
func (r *ProcessRunner) Run(ctx context.Context, req []byte) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextFailure(ctx, err)
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancelTimeout()

	runCtx, abort := context.WithCancel(timeoutCtx)
	defer abort()

	stdout := &cappedBuffer{limit: r.cfg.MaxOutputBytes, onOverflow: abort}
	stderr := &cappedBuffer{limit: r.cfg.MaxOutputBytes}

	cmd := exec.CommandContext(runCtx, r.cfg.Command, r.cfg.Args...)
	cmd.Dir = r.cfg.Dir
	if len(r.cfg.Env) > 0 {
		cmd.Env = r.cfg.Env
	}
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.cfg.WaitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		slog.Debug("scoring process failed to start", "command", r.cfg.Command, "error", err)
		return nil, launchFailed(err)
	}
	slog.Debug("scoring process started", "command", r.cfg.Command, "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	slog.Debug("scoring process finished",
		"pid", cmd.Process.Pid,
		"duration", time.Since(start).String(),
		"stdout_bytes", stdout.buf.Len(),
		"stderr_bytes", stderr.buf.Len(),
	)

	if stdout.overflow {
		return nil, &Failure{
			Kind:    KindOutputTooLarge,
			Message: fmt.Sprintf("scoring process output exceeded %d bytes", r.cfg.MaxOutputBytes),
		}
	}

	// A process that exited cleanly keeps its result even if the deadline
	// passed while its output was being collected.
	if runCtx.Err() != nil && !cmd.ProcessState.Success() {
		return nil, contextFailure(ctx, timeoutCtx.Err())
	}

	if waitErr != nil && !isExitOrDelay(waitErr) {
		slog.Warn("scoring process stream error", "pid", cmd.Process.Pid, "error", waitErr)
	}

	return &Output{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.buf.Bytes(),
		Stderr:   stderr.buf.Bytes(),
	}, nil
}

func isExitOrDelay(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay)
}

// contextFailure maps a done context to the matching failure. A parent
// cancellation wins over the runner's own deadline.
func contextFailure(parent context.Context, err error) *Failure {
	if pErr := parent.Err(); pErr != nil {
		err = pErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimedOut, Err: err}
	}
	return &Failure{Kind: KindCancelled, Err: err}
}

// cappedBuffer keeps at most limit bytes and silently drops the rest so the
// writing process never blocks on a full pipe.
type cappedBuffer struct {
	buf        bytes.Buffer
	limit      int
	overflow   bool
	onOverflow func()
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	room := b.limit - b.buf.Len()
	if len(p) <= room {
		return b.buf.Write(p)
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.overflow = true
	if b.onOverflow != nil {
		b.onOverflow()
	}
	return len(p), nil
}
