package processes

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPortManagerAllocateRelease checks allocation within the range and reuse after release
func TestPortManagerAllocateRelease(t *testing.T) {
	pm, err := NewPortManager(DefaultMinPort, DefaultMaxPort)
	require.NoError(t, err)

	first, err := pm.AllocatePort()
	require.NoError(t, err)
	second, err := pm.AllocatePort()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.GreaterOrEqual(t, first, DefaultMinPort)
	assert.LessOrEqual(t, second, DefaultMaxPort)
	assert.Equal(t, 2, pm.Allocated())

	pm.ReleasePort(first)
	assert.Equal(t, 1, pm.Allocated())
	pm.ReleasePort(80) // out of range, ignored
	assert.Equal(t, 1, pm.Allocated())
}

func TestPortManagerSkipsBoundPorts(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	pm, err := NewPortManager(busy, busy)
	require.NoError(t, err)
	_, err = pm.AllocatePort()
	assert.Error(t, err)
}

func TestNewPortManagerInvalidRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
	}{
		{"zero min", 0, 100},
		{"inverted", 2000, 1000},
		{"too large", 1000, 70000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPortManager(tt.min, tt.max)
			assert.Error(t, err)
		})
	}
}

func TestOutputLogKeepsLatestLines(t *testing.T) {
	log := NewOutputLog(3)
	for i := 1; i <= 5; i++ {
		log.Append("stdout", strconv.Itoa(i))
	}

	tail := log.Tail(10)
	require.Len(t, tail, 3)
	assert.Equal(t, "3", tail[0].Text)
	assert.Equal(t, "5", tail[2].Text)
	assert.Equal(t, int64(5), tail[2].Seq)

	last := log.Tail(1)
	require.Len(t, last, 1)
	assert.Equal(t, "5", last[0].Text)

	since := log.Since(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].Seq)
	assert.Len(t, log.Since(0), 3, "lines overwritten in the ring are gone")
	assert.Empty(t, log.Tail(0))
}

func TestOutputLogPartiallyFilled(t *testing.T) {
	log := NewOutputLog(10)
	log.Append("stdout", "a")
	log.Append("stderr", "b")

	lines := log.Since(0)
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0].Text)
	assert.Equal(t, "stderr", lines[1].Stream)
}

func TestStateIsKeptAfterExit(t *testing.T) {
	mp := &ManagedProcess{state: StateStarting, done: make(chan struct{})}
	mp.SetState(StateStopping)
	mp.markExited(nil)
	assert.Equal(t, StateStopped, mp.State())

	mp.SetState(StateRunning)
	assert.Equal(t, StateStopped, mp.State(), "an exited process keeps its final state")
	assert.Equal(t, "stopped", mp.State().String())
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

// syncBuffer is a bytes.Buffer safe for the capture goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunnerCapturesOutput(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(Config{}, nil)

	var out syncBuffer
	mp, err := r.Start(context.Background(), Spec{Name: "echo", Command: "echo hello"}, &out, nil)
	require.NoError(t, err)

	select {
	case <-mp.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	r.Wait()

	assert.Equal(t, "hello\n", out.String())
	lines := mp.Output.Tail(1)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0].Text)
	assert.Equal(t, "stdout", lines[0].Stream)
	assert.Equal(t, StateFailed, mp.State(), "an exit nobody asked for is a failure")
}

func TestRunnerStopInterruptsProcess(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(Config{GracefulShutdownPeriod: 5 * time.Second}, nil)

	mp, err := r.Start(context.Background(), Spec{Name: "sleeper", Command: "sleep 30"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Stop(context.Background(), mp))
	assert.Equal(t, StateStopped, mp.State())

	// Stopping again is a no-op.
	assert.NoError(t, r.Stop(context.Background(), mp))
}

func TestRunnerStopKillsAfterGracePeriod(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(Config{GracefulShutdownPeriod: 100 * time.Millisecond}, nil)

	mp, err := r.Start(context.Background(), Spec{Name: "stubborn", Command: "trap '' INT; sleep 30"}, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Stop(context.Background(), mp))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func waitExit(t *testing.T, mp *ManagedProcess) {
	t.Helper()
	select {
	case <-mp.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestRunnerCapturesLongLines(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(Config{}, nil)

	var out syncBuffer
	mp, err := r.Start(context.Background(), Spec{
		Name:    "long",
		Command: `head -c 300000 /dev/zero | tr '\0' a; echo; echo done`,
	}, &out, nil)
	require.NoError(t, err)
	waitExit(t, mp)
	r.Wait()

	lines := mp.Output.Tail(2)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0].Text, 300000)
	assert.Equal(t, "done", lines[1].Text)
	assert.NoError(t, mp.ExitErr())
}

func TestRunnerDrainsOutputAfterOversizedLine(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(Config{}, nil)

	mp, err := r.Start(context.Background(), Spec{
		Name:    "flood",
		Command: `head -c 2200000 /dev/zero | tr '\0' a; echo; head -c 1000000 /dev/zero; echo done`,
	}, nil, nil)
	require.NoError(t, err)
	waitExit(t, mp)
	r.Wait()
	assert.NoError(t, mp.ExitErr(), "the process must not block writing to a full pipe")
}

func TestRunnerStopReapsWhenDescendantHoldsOutput(t *testing.T) {
	skipWithoutShell(t)
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("requires setsid")
	}
	r := NewRunner(Config{GracefulShutdownPeriod: 200 * time.Millisecond, KillTimeout: 200 * time.Millisecond}, nil)

	// The setsid child leaves the process group but inherits stdout and stderr.
	mp, err := r.Start(context.Background(), Spec{Name: "daemonizer", Command: "setsid sleep 5 & exec sleep 30"}, nil, nil)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background(), mp) }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, StateStopped, mp.State())
	r.Wait()
}

func TestRunnerEmptyCommand(t *testing.T) {
	r := NewRunner(Config{}, nil)
	_, err := r.Start(context.Background(), Spec{Name: "nothing", Command: "  "}, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestHTTPHealthChecker(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	mp := &ManagedProcess{
		Spec:  Spec{Name: "api", Port: port, HealthPath: "/health"},
		state: StateStarting,
		done:  make(chan struct{}),
	}
	checker := NewHTTPHealthChecker(time.Second)

	state, err := checker.Check(context.Background(), mp)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
	assert.Equal(t, StateRunning, mp.State())

	healthy.Store(false)
	state, err = checker.Check(context.Background(), mp)
	assert.Error(t, err)
	assert.Equal(t, StateUnhealthy, state)

	mp.markExited(nil)
	state, err = checker.Check(context.Background(), mp)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, state)
}
