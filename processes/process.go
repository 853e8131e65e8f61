// Package processes starts, watches and stops the subprocesses a development server
// depends on: service routers and the built server run by start/deploy.
package processes

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle state of a managed process as shown in devtools.
type State string

const (
	// StateStarting means the process was launched but has not passed a health check.
	StateStarting State = "starting"
	// StateRunning means the process is up and, if it has a health path, answering it.
	StateRunning State = "running"
	// StateUnhealthy means the process is up but its health check fails.
	StateUnhealthy State = "unhealthy"
	// StateStopping means Stop was called and the process has not exited yet.
	StateStopping State = "stopping"
	// StateStopped means the process exited after Stop.
	StateStopped State = "stopped"
	// StateFailed means the process exited without being asked to.
	StateFailed State = "failed"
)

func (s State) String() string { return string(s) }

// Spec describes a subprocess to launch.
type Spec struct {
	Name       string   // Label used in logs
	Command    string   // Shell command line
	Dir        string   // Working directory, empty inherits
	Env        []string // Extra KEY=VALUE pairs appended to the parent environment
	Port       int      // Port the process is expected to listen on, 0 if none
	HealthPath string   // HTTP path probed by the health checker
}

// ManagedProcess is a running subprocess started by a Runner.
type ManagedProcess struct {
	Spec   Spec
	Cmd    *exec.Cmd
	PID    int
	Output *OutputLog

	mu        sync.Mutex
	state     State
	startTime time.Time
	exitErr   error
	exited    bool
	done      chan struct{} // closed once the process has exited and been reaped
	pipes     []io.Closer
}

func newManagedProcess(spec Spec, cmd *exec.Cmd, outputLines int) *ManagedProcess {
	return &ManagedProcess{
		Spec:      spec,
		Cmd:       cmd,
		PID:       cmd.Process.Pid,
		Output:    NewOutputLog(outputLines),
		state:     StateStarting,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetState records a state observed by the runner or a health check. Once the process
// has exited its final state is kept.
func (mp *ManagedProcess) SetState(state State) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.exited {
		return
	}
	mp.state = state
}

// State returns the last recorded state.
func (mp *ManagedProcess) State() State {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// Done is closed when the process has exited.
func (mp *ManagedProcess) Done() <-chan struct{} {
	return mp.done
}

// ExitErr returns the error the process exited with. Only meaningful after Done is closed.
func (mp *ManagedProcess) ExitErr() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.exitErr
}

// Uptime returns how long the process has been running.
func (mp *ManagedProcess) Uptime() time.Duration {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return time.Since(mp.startTime)
}

// closePipes closes the read ends of the output pipes, ending capture.
func (mp *ManagedProcess) closePipes() {
	for _, p := range mp.pipes {
		p.Close()
	}
}

// markExited records the exit. An exit that was not requested is a failure.
func (mp *ManagedProcess) markExited(err error) {
	mp.mu.Lock()
	mp.exitErr = err
	mp.exited = true
	if mp.state == StateStopping {
		mp.state = StateStopped
	} else {
		mp.state = StateFailed
	}
	mp.mu.Unlock()
	close(mp.done)
}
