package processes

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrEmptyCommand is returned by Start when the spec has no command to run.
var ErrEmptyCommand = errors.New("empty command")

// maxLineBytes bounds a single captured output line. Output after a longer line is
// discarded so the process never blocks on a full pipe.
const maxLineBytes = 1 << 20

// Config holds configuration for the Runner.
type Config struct {
	// GracefulShutdownPeriod is how long Stop waits after the interrupt before killing.
	GracefulShutdownPeriod time.Duration
	// OutputLines is the number of output lines kept per process.
	OutputLines int
	// KillTimeout is how long Stop waits for a killed process to be reaped before
	// closing its output pipes, and again after that before giving up.
	KillTimeout time.Duration
}

// DefaultConfig returns the default Runner configuration.
func DefaultConfig() Config {
	return Config{
		GracefulShutdownPeriod: 10 * time.Second,
		OutputLines:            1000,
		KillTimeout:            5 * time.Second,
	}
}

// Runner launches subprocesses in their own process group, captures their output, and
// stops them with an interrupt followed by a kill once the grace period runs out.
type Runner struct {
	logger *slog.Logger
	config Config
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. A zero Config field falls back to its default.
func NewRunner(config Config, logger *slog.Logger) *Runner {
	defaults := DefaultConfig()
	if config.GracefulShutdownPeriod <= 0 {
		config.GracefulShutdownPeriod = defaults.GracefulShutdownPeriod
	}
	if config.OutputLines <= 0 {
		config.OutputLines = defaults.OutputLines
	}
	if config.KillTimeout <= 0 {
		config.KillTimeout = defaults.KillTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger.With("component", "processes"),
		config: config,
	}
}

// Start launches the process described by spec. Output lines are kept in the process
// OutputLog, logged, and copied to stdout/stderr when they are non-nil.
func (r *Runner) Start(ctx context.Context, spec Spec, stdout, stderr io.Writer) (*ManagedProcess, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, ErrEmptyCommand)
	}

	r.logger.Info("Starting process", "name", spec.Name, "command", spec.Command, "port", spec.Port)

	cmd := shellCommand(spec.Command)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	setProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe for %s: %w", spec.Name, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		return nil, fmt.Errorf("failed to get stderr pipe for %s: %w", spec.Name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s (%s): %w", spec.Name, cmd.String(), err)
	}

	mp := newManagedProcess(spec, cmd, r.config.OutputLines)
	mp.pipes = []io.Closer{stdoutPipe, stderrPipe}
	logger := r.logger.With("name", spec.Name, "pid", mp.PID)

	var streams sync.WaitGroup
	streams.Add(2)
	go r.capture(&streams, logger, mp, "stdout", stdoutPipe, stdout)
	go r.capture(&streams, logger, mp, "stderr", stderrPipe, stderr)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Pipes must be drained before Wait closes them.
		streams.Wait()
		err := cmd.Wait()
		mp.markExited(err)
		if mp.State() == StateFailed {
			logger.Warn("Process exited unexpectedly", "error", err)
		} else {
			logger.Info("Process exited", "error", err)
		}
	}()

	logger.Info("Process started")
	return mp, nil
}

func (r *Runner) capture(wg *sync.WaitGroup, logger *slog.Logger, mp *ManagedProcess, source string, pipe io.Reader, copyTo io.Writer) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		mp.Output.Append(source, line)
		if copyTo != nil {
			fmt.Fprintln(copyTo, line)
		} else {
			logger.Info("Process output", "source", source, "output", line)
		}
	}
	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	logger.Error("Error reading process output, discarding the rest", "source", source, "error", err)
	if _, err := io.Copy(io.Discard, pipe); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("Error discarding process output", "source", source, "error", err)
	}
}

// Stop interrupts the process group and waits for it to exit. If it is still running
// after the grace period, the group is killed. Stopping an exited process is a no-op.
func (r *Runner) Stop(ctx context.Context, mp *ManagedProcess) error {
	select {
	case <-mp.Done():
		return nil
	default:
	}

	mp.SetState(StateStopping)
	logger := r.logger.With("name", mp.Spec.Name, "pid", mp.PID)
	logger.Info("Stopping process")

	if err := interruptGroup(mp.Cmd); err != nil {
		logger.Warn("Failed to interrupt process", "error", err)
	}

	timer := time.NewTimer(r.config.GracefulShutdownPeriod)
	defer timer.Stop()

	select {
	case <-mp.Done():
		logger.Info("Process exited gracefully")
		return nil
	case <-timer.C:
		logger.Warn("Process did not exit gracefully, killing")
	case <-ctx.Done():
		logger.Warn("Stop cancelled, killing")
	}

	killErr := killGroup(mp.Cmd)
	if killErr != nil {
		logger.Warn("Failed to kill process group", "error", killErr)
	}
	if !r.awaitExit(mp, logger) {
		mp.SetState(StateFailed)
		if killErr != nil {
			return fmt.Errorf("failed to kill process %s (PID %d): %w", mp.Spec.Name, mp.PID, killErr)
		}
		return fmt.Errorf("process %s (PID %d) was not reaped after kill", mp.Spec.Name, mp.PID)
	}
	return ctx.Err()
}

// awaitExit waits for a killed process to be reaped. A descendant that left the group
// can keep the output pipes open, which holds up reaping, so the pipes are closed once
// KillTimeout passes.
func (r *Runner) awaitExit(mp *ManagedProcess, logger *slog.Logger) bool {
	timer := time.NewTimer(r.config.KillTimeout)
	defer timer.Stop()
	select {
	case <-mp.Done():
		return true
	case <-timer.C:
	}

	logger.Warn("Output still open after kill, closing pipes")
	mp.closePipes()
	timer.Reset(r.config.KillTimeout)
	select {
	case <-mp.Done():
		return true
	case <-timer.C:
		return false
	}
}

// Wait blocks until every process started by this runner has been reaped.
func (r *Runner) Wait() {
	r.wg.Wait()
}
