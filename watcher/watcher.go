// Package watcher reports changes to the files that define an application.
//
// A Watcher runs in one of two modes. ModeAwaitingFirstApp is used while no valid app
// definition exists yet; Promote switches it, exactly once, to ModeSteadyState by closing
// the bootstrap handle for the persistent one. Events keep arriving on the same
// channel across the switch.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrAlreadyPromoted is returned by Promote once the watcher is in steady state.
var ErrAlreadyPromoted = errors.New("watcher already promoted")

// ErrClosed is returned by Promote after Close.
var ErrClosed = errors.New("watcher closed")

var newFSWatcher = fsnotify.NewWatcher

// Mode is the lifecycle state of a Watcher.
type Mode int

const (
	// ModeAwaitingFirstApp watches while the initial app definition is unavailable.
	ModeAwaitingFirstApp Mode = iota
	// ModeSteadyState watches once a valid app definition exists.
	ModeSteadyState
)

func (m Mode) String() string {
	switch m {
	case ModeAwaitingFirstApp:
		return "awaiting-first-app"
	case ModeSteadyState:
		return "steady-state"
	default:
		return "unknown"
	}
}

// Event is one filesystem change to a watched path.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// DefaultPatterns returns the paths watched for an app: any app.config.* and
// vite.config.* file, plus the explicit config path when one was given.
func DefaultPatterns(configPath string) []string {
	return Filter([]string{"app.config.*", "vite.config.*", configPath})
}

// Filter drops empty entries.
func Filter(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// handle is one fsnotify watcher and the goroutine draining it.
type handle struct {
	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

// Watcher delivers one Event per matching filesystem event, in order, without batching.
type Watcher struct {
	patterns []string // absolute glob patterns
	dirs     []string // directories containing them
	logger   *slog.Logger
	events   chan Event
	errs     chan error

	mu     sync.Mutex
	mode   Mode
	cur    *handle
	closed bool
}

// New starts watching patterns, resolved against dir, in the given mode.
func New(dir string, patterns []string, mode Mode, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	patterns = Filter(patterns)
	if len(patterns) == 0 {
		return nil, errors.New("no paths to watch")
	}

	w := &Watcher{
		logger: logger.With("component", "watcher"),
		events: make(chan Event, 64),
		errs:   make(chan error, 16),
		mode:   mode,
	}

	seen := make(map[string]bool)
	for _, p := range patterns {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve watch path %s: %w", p, err)
		}
		w.patterns = append(w.patterns, abs)
		if d := filepath.Dir(abs); !seen[d] {
			seen[d] = true
			w.dirs = append(w.dirs, d)
		}
	}

	h, err := w.open()
	if err != nil {
		return nil, err
	}
	w.cur = h
	w.logger.Info("Watching for changes", "paths", patterns, "mode", mode.String())
	return w, nil
}

// Events returns the channel events are delivered on. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel watch errors are reported on. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Mode returns the current mode.
func (w *Watcher) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Promote replaces the bootstrap handle with the persistent one. It succeeds once;
// later calls return ErrAlreadyPromoted. When the persistent handle cannot be opened
// the bootstrap handle keeps watching, the mode is unchanged and Promote may be
// called again.
func (w *Watcher) Promote() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.mode == ModeSteadyState {
		return ErrAlreadyPromoted
	}

	h, err := w.open()
	if err != nil {
		return fmt.Errorf("failed to open persistent watcher: %w", err)
	}
	if w.cur != nil {
		w.cur.close()
	}
	w.cur = h
	w.mode = ModeSteadyState
	w.logger.Info("Watcher promoted", "mode", w.mode.String())
	return nil
}

// Close stops watching and closes the Events and Errors channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.cur != nil {
		err = w.cur.close()
		w.cur = nil
	}
	close(w.events)
	close(w.errs)
	return err
}

func (w *Watcher) open() (*handle, error) {
	fsw, err := newFSWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	for _, d := range w.dirs {
		if err := fsw.Add(d); err != nil {
			// A missing directory is reported, not fatal; the other paths still work.
			w.report(fmt.Errorf("watch %s: %w", d, err))
		}
	}
	h := &handle{fsw: fsw, stop: make(chan struct{}), done: make(chan struct{})}
	go w.run(h)
	return h, nil
}

func (w *Watcher) run(h *handle) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return
			}
			// Permission changes do not alter the definition.
			if ev.Op == fsnotify.Chmod || !w.matches(ev.Name) {
				continue
			}
			w.logger.Debug("Change detected", "path", ev.Name, "op", ev.Op.String())
			select {
			case w.events <- Event{Path: ev.Name, Op: ev.Op}:
			case <-h.stop:
				return
			}
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) matches(name string) bool {
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// report forwards err without blocking; when nobody drains Errors it is only logged.
func (w *Watcher) report(err error) {
	w.logger.Warn("Watcher error", "error", err)
	select {
	case w.errs <- err:
	default:
	}
}

func (h *handle) close() error {
	close(h.stop)
	err := h.fsw.Close()
	<-h.done
	return err
}
