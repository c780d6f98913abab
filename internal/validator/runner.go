package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one launch of the external tool.
type Command struct {
	Name      string
	Args      []string
	Dir       string
	Env       []string
	Timeout   time.Duration
	KillGrace time.Duration
	LogPath   string // stdout+stderr are mirrored here when set
}

// Result describes how the process ended. TimedOut and Canceled mean the runner
// terminated the process group itself.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	TimedOut bool
	Canceled bool
}

// SpawnError is returned when the process could not be started at all.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Name, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Runner lets us stub the external tool in tests.
type Runner interface {
	Run(ctx context.Context, c Command, logger *slog.Logger) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, c Command, logger *slog.Logger) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, c Command, logger *slog.Logger) (Result, error) {
	return f(ctx, c, logger)
}

const captureLimit = 64 << 10

type execRunner struct{}

// ExecRunner starts real processes in their own process group, so a timeout or
// cancellation takes down everything the tool spawned.
func ExecRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, c Command, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	logger.Debug("running command", "cmd_line", strings.Join(append([]string{c.Name}, c.Args...), " "), "dir", c.Dir)

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = c.KillGrace
	configureProcess(cmd)

	out := &cappedBuffer{max: captureLimit}
	errb := &cappedBuffer{max: captureLimit}
	var stdout, stderr io.Writer = out, errb
	if c.LogPath != "" {
		lf, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			logger.Warn("validator.log_open_failed", "path", c.LogPath, "error", err)
		} else {
			defer func() { _ = lf.Close() }()
			stdout = io.MultiWriter(out, lf)
			stderr = io.MultiWriter(errb, lf)
		}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		logger.Error("exec failed", "cmd", c.Name, "error", err)
		return Result{ExitCode: -1, Duration: time.Since(start)}, &SpawnError{Name: c.Name, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		t := time.NewTimer(c.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var res Result
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timeout:
		res.TimedOut = true
		waitErr = stop(cmd, c.KillGrace, done)
	case <-ctx.Done():
		res.Canceled = true
		waitErr = stop(cmd, c.KillGrace, done)
	}

	// The tool has exited; anything it left running in its group goes too.
	killProcess(cmd)

	res.Duration = time.Since(start)
	res.Stdout = out.Bytes()
	res.Stderr = errb.Bytes()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// a leftover child held the output pipes open past the grace period
		logger.Warn("validator.orphans_killed", "cmd", c.Name, "grace_ms", c.KillGrace.Milliseconds())
		res.ExitCode = cmd.ProcessState.ExitCode()
		waitErr = nil
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}

	if waitErr != nil || res.TimedOut || res.Canceled {
		logger.Error("exec failed",
			"cmd", c.Name,
			"duration_ms", res.Duration.Milliseconds(),
			"exit_code", res.ExitCode,
			"timed_out", res.TimedOut,
			"canceled", res.Canceled,
			"error", waitErr,
			"stderr", truncate(string(res.Stderr), 8<<10),
		)
	} else {
		logger.Debug("exec ok",
			"cmd", c.Name,
			"duration_ms", res.Duration.Milliseconds(),
			"stdout_bytes", len(res.Stdout),
			"stderr_bytes", len(res.Stderr),
		)
	}
	return res, nil
}

// stop asks the process group to terminate, waits up to grace, then kills it.
func stop(cmd *exec.Cmd, grace time.Duration, done <-chan error) error {
	interruptProcess(cmd)
	if grace > 0 {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case err := <-done:
			return err
		case <-t.C:
		}
	}
	killProcess(cmd)
	return <-done
}

// cappedBuffer keeps the first max bytes and silently drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
