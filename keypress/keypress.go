// Package keypress reads single keystrokes from the terminal and turns them into
// supervisor actions.
package keypress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

// Action is what a keystroke asks the orchestrator to do.
type Action int

const (
	// ActionRestart restarts the server with the current app definition.
	ActionRestart Action = iota
	// ActionShowURL prints the current listener's URLs.
	ActionShowURL
	// ActionInterrupt is Ctrl+C, which raw mode delivers as a byte instead of SIGINT.
	ActionInterrupt
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionShowURL:
		return "show-url"
	case ActionInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

const ctrlC = 3

// Options configures a Controller.
type Options struct {
	// Out receives the help table. Defaults to stdout.
	Out io.Writer
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
	// OnRaw is told when the terminal enters and leaves raw mode.
	OnRaw  func(raw bool)
	Logger *slog.Logger
}

// Controller reads keystrokes from an input stream. Keys q and h are handled directly;
// everything else that means something is sent on Actions.
type Controller struct {
	in      io.Reader
	out     io.Writer
	exit    func(int)
	onRaw   func(bool)
	logger  *slog.Logger
	actions chan Action
	stop    chan struct{}

	mu        sync.Mutex
	termState *term.State
	fd        int
	started   bool
	stopped   bool
}

// New creates a Controller reading from in. When in is a terminal it is switched to raw
// mode on Start; any other reader is consumed byte by byte as is.
func New(in io.Reader, opts Options) *Controller {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		in:      in,
		out:     opts.Out,
		exit:    opts.Exit,
		onRaw:   opts.OnRaw,
		logger:  opts.Logger.With("component", "keypress"),
		actions: make(chan Action, 8),
		stop:    make(chan struct{}),
		fd:      -1,
	}
}

// Actions returns the channel keystroke actions are delivered on.
func (c *Controller) Actions() <-chan Action {
	return c.actions
}

// Start enters raw mode if possible and begins reading keys in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("keypress controller already started")
	}
	c.started = true

	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		c.fd, c.termState = fd, state
		if c.onRaw != nil {
			c.onRaw(true)
		}
	}

	go c.readLoop(ctx)
	PrintHelp(c.out)
	return nil
}

// Stop stops delivering actions and restores the terminal. A read already blocked on
// the input stays blocked until the next keystroke, which is then discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
	c.mu.Unlock()
	c.Restore()
}

// Restore puts the terminal back into the mode it was in before Start.
func (c *Controller) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.termState == nil {
		return
	}
	if err := term.Restore(c.fd, c.termState); err != nil {
		c.logger.Warn("Failed to restore terminal", "error", err)
	}
	c.termState = nil
	if c.onRaw != nil {
		c.onRaw(false)
	}
}

func (c *Controller) readLoop(ctx context.Context) {
	buf := make([]byte, 1)
	for {
		n, err := c.in.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("Stopped reading keys", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		c.handleKey(ctx, buf[0])
	}
}

func (c *Controller) handleKey(ctx context.Context, key byte) {
	var action Action
	switch key {
	case 'q', 'Q':
		// Immediate exit: the current instance is deliberately not closed.
		c.Restore()
		c.exit(0)
		return
	case 'h', 'H':
		PrintHelp(c.out)
		return
	case 'r', 'R':
		action = ActionRestart
	case 'u', 'U':
		action = ActionShowURL
	case ctrlC:
		action = ActionInterrupt
	default:
		return
	}

	select {
	case c.actions <- action:
	case <-c.stop:
	case <-ctx.Done():
	}
}

// PrintHelp writes the shortcut table.
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "Shortcuts:")
	fmt.Fprintln(w, "  r - Restart dev server")
	fmt.Fprintln(w, "  u - Show server URL")
	fmt.Fprintln(w, "  h - Show help")
	fmt.Fprintln(w, "  q - Quit")
}
