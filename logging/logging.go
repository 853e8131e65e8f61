// Package logging builds the process logger: log/slog on top of a charmbracelet/log
// handler, writing through a TerminalWriter so output stays readable in raw mode.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// New returns a slog.Logger writing to w at the given level.
func New(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "devhost",
	})
	return slog.New(handler), nil
}

// TerminalWriter writes to an underlying terminal stream. While raw mode is on it turns
// bare "\n" into "\r\n", which raw mode no longer does.
type TerminalWriter struct {
	mu  sync.Mutex
	w   io.Writer
	raw bool
}

// NewTerminalWriter wraps w.
func NewTerminalWriter(w io.Writer) *TerminalWriter {
	return &TerminalWriter{w: w}
}

// SetRaw switches newline translation on or off.
func (t *TerminalWriter) SetRaw(raw bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.raw = raw
}

// Write implements io.Writer. It reports len(p) on success whatever was added.
func (t *TerminalWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.raw {
		return t.w.Write(p)
	}

	var buf bytes.Buffer
	buf.Grow(len(p) + bytes.Count(p, []byte{'\n'}))
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			buf.WriteByte('\r')
		}
		buf.WriteByte(b)
	}
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
