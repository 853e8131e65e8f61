// Package supervisor owns the single current server instance and replaces it on
// restart: the old instance is fully closed before the new one is created and bound.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devserver"
	"github.com/tomyedwab/devhost/history"
	"github.com/tomyedwab/devhost/metrics"
)

// ErrRestartFailed wraps every failure of the close, create or listen step.
var ErrRestartFailed = errors.New("restart failed")

// Config holds the collaborators of a Supervisor.
type Config struct {
	// Factory creates server instances.
	Factory devserver.Factory
	// Preset is called on every restart; its result is never cached.
	Preset func() string
	// Options is the template each instance is created with. Preset is overwritten
	// with the resolved value.
	Options devserver.Options

	Metrics *metrics.Metrics
	Journal *history.Journal
	Logger  *slog.Logger
}

// Supervisor serializes restarts of the current server instance.
type Supervisor struct {
	factory devserver.Factory
	preset  func() string
	opts    devserver.Options
	metrics *metrics.Metrics
	journal *history.Journal
	logger  *slog.Logger

	// mu is held across close→create→listen so at most one restart runs at a time.
	mu       sync.Mutex
	current  devserver.Instance
	listener devserver.Listener
	restarts int
}

// New creates a Supervisor with no current instance.
func New(config Config) *Supervisor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	preset := config.Preset
	if preset == nil {
		preset = func() string { return config.Options.Preset }
	}
	return &Supervisor{
		factory: config.Factory,
		preset:  preset,
		opts:    config.Options,
		metrics: config.Metrics,
		journal: config.Journal,
		logger:  logger.With("component", "supervisor"),
	}
}

// Restart closes the current instance, if any, and waits for that to finish. It then
// creates a new instance from app with a freshly resolved preset and listens on it.
// The new listener is returned and becomes current. A restart requested while another
// is in flight waits for it. Failures wrap ErrRestartFailed and are not retried.
func (s *Supervisor) Restart(ctx context.Context, app *appconfig.App) (devserver.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	opts := s.opts
	opts.Preset = s.preset()

	listener, err := s.restartLocked(ctx, app, opts)
	duration := time.Since(start)
	s.metrics.ObserveRestart(duration, err)

	if err != nil {
		s.logger.Error("Restart failed", "error", err, "preset", opts.Preset, "duration", duration)
		s.record(s.journal.LogRestartFailed(ctx, opts.Preset, opts.Port, duration, err))
		return nil, err
	}

	s.restarts++
	s.logger.Info("Server ready", "preset", opts.Preset, "url", listener.URL(), "duration", duration, "restarts", s.restarts)
	s.record(s.journal.LogRestart(ctx, instanceID(s.current), opts.Preset, opts.Port, duration))
	return listener, nil
}

func (s *Supervisor) restartLocked(ctx context.Context, app *appconfig.App, opts devserver.Options) (devserver.Listener, error) {
	if s.current != nil {
		s.logger.Info("Closing current instance", "instance", instanceID(s.current))
		old := s.current
		// The old instance is no longer current even if closing it fails.
		s.current, s.listener = nil, nil
		s.metrics.SetInstanceUp(false)
		if err := old.Close(ctx); err != nil {
			return nil, fmt.Errorf("%w: close: %w", ErrRestartFailed, err)
		}
	}

	instance, err := s.factory(ctx, app, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: create: %w", ErrRestartFailed, err)
	}

	listener, err := instance.Listen(ctx)
	if err != nil {
		if closeErr := instance.Close(ctx); closeErr != nil {
			s.logger.Warn("Failed to close instance after listen error", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: listen: %w", ErrRestartFailed, err)
	}

	s.current, s.listener = instance, listener
	s.metrics.SetInstanceUp(true)
	return listener, nil
}

// Shutdown closes the current instance, if any.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	old := s.current
	s.current, s.listener = nil, nil
	s.metrics.SetInstanceUp(false)

	s.logger.Info("Shutting down", "instance", instanceID(old))
	if err := old.Close(ctx); err != nil {
		return fmt.Errorf("failed to close instance: %w", err)
	}
	s.record(s.journal.LogShutdown(ctx, instanceID(old)))
	return nil
}

// Listener returns the current listener, or nil when no instance is listening.
func (s *Supervisor) Listener() devserver.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// Current returns the current instance, or nil.
func (s *Supervisor) Current() devserver.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Supervisor) record(err error) {
	if err != nil {
		s.logger.Warn("Failed to write history", "error", err)
	}
}

func instanceID(instance devserver.Instance) string {
	if id, ok := instance.(devserver.Identified); ok {
		return id.ID()
	}
	return ""
}
