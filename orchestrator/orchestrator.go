// Package orchestrator runs a development session: it loads the app, starts the first
// server instance, and turns watcher, keyboard and devtools events into reloads and
// restarts, one at a time and in arrival order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devserver"
	"github.com/tomyedwab/devhost/history"
	"github.com/tomyedwab/devhost/keypress"
	"github.com/tomyedwab/devhost/metrics"
	"github.com/tomyedwab/devhost/watcher"
)

// ErrStopped is returned by Trigger once the event loop has exited.
var ErrStopped = errors.New("orchestrator stopped")

// Supervisor restarts and shuts down the current server instance.
type Supervisor interface {
	Restart(ctx context.Context, app *appconfig.App) (devserver.Listener, error)
	Shutdown(ctx context.Context) error
	Listener() devserver.Listener
}

// Watcher is the config file watcher.
type Watcher interface {
	Events() <-chan watcher.Event
	Errors() <-chan error
	Mode() watcher.Mode
	Promote() error
	Close() error
}

// Keys is the keyboard controller.
type Keys interface {
	Start(ctx context.Context) error
	Actions() <-chan keypress.Action
	Stop()
}

// EventKind identifies what an Event asks for.
type EventKind int

const (
	// EventFileChanged reloads the app definition and restarts on success.
	EventFileChanged EventKind = iota
	// EventRestart restarts with the current app definition.
	EventRestart
	// EventShowURL prints the current listener's URLs.
	EventShowURL
	// EventInterrupt ends the session with an orderly shutdown.
	EventInterrupt
)

// Event is one entry of the orchestrator's queue.
type Event struct {
	Kind   EventKind
	Path   string
	Source string
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	// ConfigPath and LoadOptions are passed to Loader on every load.
	ConfigPath  string
	LoadOptions appconfig.Options
	Loader      appconfig.Loader

	Supervisor Supervisor
	// NewWatcher opens the config watcher in the given mode.
	NewWatcher func(mode watcher.Mode) (Watcher, error)
	// Keys is optional; without it no keyboard shortcuts are available.
	Keys Keys

	Metrics *metrics.Metrics
	Journal *history.Journal
	Logger  *slog.Logger
}

// Orchestrator owns the session state: the current app definition, the watcher and
// whether keyboard control is running. Only the event loop goroutine touches it.
type Orchestrator struct {
	config Config
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	app         *appconfig.App
	watcher     Watcher
	keysStarted bool
	stopOnce    sync.Once
}

// New creates an Orchestrator. Run starts it.
func New(config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Loader == nil {
		config.Loader = appconfig.Load
	}
	return &Orchestrator{
		config: config,
		logger: logger.With("component", "orchestrator"),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

// Trigger queues a restart with the current app definition, e.g. for the devtools
// restart endpoint. It waits for room in the queue.
func (o *Orchestrator) Trigger() error {
	select {
	case o.events <- Event{Kind: EventRestart, Source: "devtools"}:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

// App returns the current app definition. Only safe to call from the loop or after Run.
func (o *Orchestrator) App() *appconfig.App {
	return o.app
}

// Run bootstraps the session and processes events until ctx is cancelled or Ctrl+C is
// pressed, then shuts the current instance down. A failure to start the first instance
// when the app loaded at startup is returned; later failures are only logged.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.stopOnce.Do(func() { close(o.done) })

	app, err := o.load(ctx)
	mode := watcher.ModeSteadyState
	if err != nil {
		o.logger.Warn("No valid app definition yet, waiting for config changes", "error", err)
		mode = watcher.ModeAwaitingFirstApp
	}

	w, err := o.config.NewWatcher(mode)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	o.watcher = w
	defer w.Close()

	if app != nil {
		o.app = app
		if _, err := o.config.Supervisor.Restart(ctx, app); err != nil {
			return err
		}
		o.showURL()
	}

	producerCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(producerCtx)
	g.Go(func() error { return o.forwardWatcher(gctx) })
	if app != nil {
		o.startKeys(gctx, g)
	}

	o.loop(ctx, gctx, g)

	cancel()
	if o.config.Keys != nil && o.keysStarted {
		o.config.Keys.Stop()
	}
	w.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("Event source stopped with error", "error", err)
	}

	if err := o.config.Supervisor.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	o.logger.Info("Dev server stopped")
	return nil
}

func (o *Orchestrator) loop(ctx, gctx context.Context, g *errgroup.Group) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.events:
			switch ev.Kind {
			case EventFileChanged:
				o.handleChange(ctx, gctx, g, ev.Path)
			case EventRestart:
				o.handleRestart(ctx, gctx, g, ev.Source)
			case EventShowURL:
				o.showURL()
			case EventInterrupt:
				o.logger.Info("Interrupt received, shutting down")
				return
			}
		}
	}
}

// handleChange reloads the definition. A failed reload leaves the running instance
// alone. The first successful reload in bootstrap mode promotes the watcher; when that
// fails the bootstrap handle keeps watching and the next successful reload retries.
func (o *Orchestrator) handleChange(ctx, gctx context.Context, g *errgroup.Group, path string) {
	o.config.Metrics.ObserveWatchEvent()
	o.logger.Info("Change detected, reloading app", "path", path)

	app, err := o.load(ctx)
	if err != nil {
		o.logger.Warn("Reload failed, keeping current server", "path", path, "error", err)
		o.record(o.config.Journal.LogReloadFailed(ctx, path, err))
		return
	}

	if o.watcher.Mode() == watcher.ModeAwaitingFirstApp {
		if err := o.watcher.Promote(); err != nil {
			o.logger.Error("Failed to promote watcher, will retry on the next change", "error", err)
		} else {
			o.record(o.config.Journal.LogPromoted(ctx, path))
		}
	}

	o.app = app
	o.restart(ctx, gctx, g)
}

func (o *Orchestrator) handleRestart(ctx, gctx context.Context, g *errgroup.Group, source string) {
	if o.app == nil {
		o.logger.Warn("Restart ignored, no valid app definition yet", "source", source)
		return
	}
	o.logger.Info("Restart requested", "source", source)
	o.restart(ctx, gctx, g)
}

func (o *Orchestrator) restart(ctx, gctx context.Context, g *errgroup.Group) {
	if _, err := o.config.Supervisor.Restart(ctx, o.app); err != nil {
		// Logged and journaled by the supervisor; the operator fixes the cause and
		// triggers another change.
		return
	}
	o.showURL()
	if !o.keysStarted {
		o.startKeys(gctx, g)
	}
}

func (o *Orchestrator) load(ctx context.Context) (*appconfig.App, error) {
	app, err := o.config.Loader(ctx, o.config.ConfigPath, o.config.LoadOptions)
	o.config.Metrics.ObserveReload(err)
	return app, err
}

func (o *Orchestrator) showURL() {
	if l := o.config.Supervisor.Listener(); l != nil {
		l.ShowURL()
		return
	}
	o.logger.Warn("No server is listening")
}

// startKeys enables keyboard control. It runs once, after the first instance is up.
func (o *Orchestrator) startKeys(ctx context.Context, g *errgroup.Group) {
	o.keysStarted = true
	keys := o.config.Keys
	if keys == nil {
		return
	}
	if err := keys.Start(ctx); err != nil {
		o.logger.Warn("Keyboard shortcuts unavailable", "error", err)
		return
	}
	g.Go(func() error { return o.forwardKeys(ctx, keys) })
}

func (o *Orchestrator) forwardWatcher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-o.watcher.Events():
			if !ok {
				return nil
			}
			if err := o.enqueue(ctx, Event{Kind: EventFileChanged, Path: ev.Path, Source: "watcher"}); err != nil {
				return err
			}
		case err, ok := <-o.watcher.Errors():
			if !ok {
				return nil
			}
			o.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (o *Orchestrator) forwardKeys(ctx context.Context, keys Keys) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case action := <-keys.Actions():
			ev := Event{Source: "keyboard"}
			switch action {
			case keypress.ActionRestart:
				ev.Kind = EventRestart
			case keypress.ActionShowURL:
				ev.Kind = EventShowURL
			case keypress.ActionInterrupt:
				ev.Kind = EventInterrupt
			default:
				continue
			}
			if err := o.enqueue(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, ev Event) error {
	select {
	case o.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) record(err error) {
	if err != nil {
		o.logger.Warn("Failed to write history", "error", err)
	}
}
