package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout applies when a request carries no timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxOutputBytes applies when a request carries no output cap
	DefaultMaxOutputBytes = 1048576

	// pipeDrainDelay bounds how long Wait keeps reading pipes held open by
	// descendants after the child itself has exited or been killed.
	pipeDrainDelay = 2 * time.Second
)

// Request describes one command to run
type Request struct {
	// Command is the executable name or path
	Command string `json:"command"`

	// Args is the exact argument vector passed to the command
	Args []string `json:"args"`

	// Timeout is the wall-clock deadline measured from spawn
	Timeout time.Duration `json:"timeout"`

	// MaxOutputBytes caps stdout and stderr independently
	MaxOutputBytes int `json:"max_output_bytes"`
}

// Result is the captured outcome of a finished command
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`

	// PID of the child, zero if it never started
	PID int `json:"pid,omitempty"`

	// States is the lifecycle path the child went through
	States []State `json:"-"`
}

// Executor runs external programs without a shell, under a deadline and an
// output cap. It holds no per-call state and is safe for concurrent use.
type Executor struct {
	logger zerolog.Logger
}

// New creates a new Executor
func New(logger zerolog.Logger) *Executor {
	return &Executor{
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Run spawns req.Command with req.Args and waits for it to finish.
//
// A non-zero exit status is reported through Result.ExitCode, not as an
// error. Errors wrap ErrCommandNotFound, ErrCommandTimeout or
// ErrCommandExecution. On timeout the partial Result is returned alongside
// the error; the child has been killed and reaped by then.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := req.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := e.logger.With().Str("command", req.Command).Logger()
	sv := newSupervision(logger)

	stdout := newBoundedBuffer(maxOutput)
	stderr := newBoundedBuffer(maxOutput)

	// #nosec G204 -- command and argv come from trusted tool configuration
	cmd := exec.CommandContext(runCtx, req.Command, req.Args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay
	configureProcessGroup(cmd)

	// Cancel runs on the os/exec watcher goroutine once runCtx is done.
	cmd.Cancel = func() error {
		if ctx.Err() != nil {
			sv.transition(StateCancelled)
		} else {
			sv.transition(StateTimedOut)
		}
		sv.transition(StateKilled)
		err := killProcessTree(cmd)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Warn().Err(err).Msg("Failed to kill timed out process")
		}
		return err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		sv.transition(StateSpawnFailed)
		return Result{States: sv.path()}, classifyStartError(req.Command, err)
	}
	sv.transition(StateSpawned)
	sv.transition(StateRunning)

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if sv.reached(StateKilled) {
		sv.transition(StateReaped)
	} else {
		sv.transition(StateCompleted)
	}

	result := Result{
		ExitCode: exitCode(cmd, waitErr),
		Duration: duration,
		PID:      cmd.Process.Pid,
	}

	var outTrunc, errTrunc bool
	result.Stdout, outTrunc = stdout.finish(maxOutput)
	result.Stderr, errTrunc = stderr.finish(maxOutput)
	result.Truncated = outTrunc || errTrunc
	result.States = sv.path()

	switch {
	case sv.reached(StateTimedOut):
		logger.Warn().
			Dur("timeout", timeout).
			Int("pid", result.PID).
			Msg("Command timed out")
		return result, fmt.Errorf("%w after %s seconds", ErrCommandTimeout, formatSeconds(timeout))

	case sv.reached(StateCancelled):
		return result, fmt.Errorf("%w: %v", ErrCommandExecution, ctx.Err())

	case waitErr != nil && !isExitStatus(waitErr):
		return result, fmt.Errorf("%w: %v", ErrCommandExecution, waitErr)
	}

	if result.Truncated {
		logger.Warn().
			Int64("stdout_bytes", stdout.TotalBytes()).
			Int64("stderr_bytes", stderr.TotalBytes()).
			Int("max_output_bytes", maxOutput).
			Msg("Command output truncated")
	}

	logger.Debug().
		Strs("args", req.Args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed")

	return result, nil
}

// classifyStartError maps a failed spawn to ErrCommandNotFound or
// ErrCommandExecution.
func classifyStartError(command string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, command)
	}
	return fmt.Errorf("%w: %v", ErrCommandExecution, err)
}

// isExitStatus reports whether err only describes how the child exited.
func isExitStatus(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
