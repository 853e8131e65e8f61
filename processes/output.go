package processes

import (
	"sync"
	"time"
)

// OutputLine is one line a process wrote to stdout or stderr.
type OutputLine struct {
	Seq    int64     `json:"seq"`
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// OutputLog keeps the last lines of a process's output in a fixed-size ring. Sequence
// numbers start at 1 and keep growing after old lines are overwritten, so a reader can
// poll with the last Seq it saw.
type OutputLog struct {
	mu    sync.RWMutex
	lines []OutputLine
	next  int // ring slot the next line goes into
	seq   int64
}

// NewOutputLog creates a log holding up to size lines.
func NewOutputLog(size int) *OutputLog {
	if size < 1 {
		size = 1
	}
	return &OutputLog{lines: make([]OutputLine, 0, size)}
}

// Append records a line.
func (l *OutputLog) Append(stream, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	line := OutputLine{Seq: l.seq, Time: time.Now(), Stream: stream, Text: text}
	if len(l.lines) < cap(l.lines) {
		l.lines = append(l.lines, line)
		return
	}
	l.lines[l.next] = line
	l.next = (l.next + 1) % len(l.lines)
}

// Since returns the retained lines with a sequence number above after, oldest first.
func (l *OutputLog) Since(after int64) []OutputLine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []OutputLine
	for _, line := range l.ordered() {
		if line.Seq > after {
			out = append(out, line)
		}
	}
	return out
}

// Tail returns up to n of the most recent lines, oldest first.
func (l *OutputLog) Tail(n int) []OutputLine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	all := l.ordered()
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// ordered copies the ring out in insertion order. Callers hold mu.
func (l *OutputLog) ordered() []OutputLine {
	out := make([]OutputLine, 0, len(l.lines))
	out = append(out, l.lines[l.next:]...)
	return append(out, l.lines[:l.next]...)
}
