package processes

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

const (
	// DefaultMinPort and DefaultMaxPort bound the ports handed to service routers.
	DefaultMinPort = 10000
	DefaultMaxPort = 19999
)

// PortManager hands out loopback ports for service routers. Ports are shared by every
// server instance of a session, so a restart can reuse what the previous one released.
type PortManager struct {
	min, max int

	mu     sync.Mutex
	inUse  map[int]struct{}
	cursor int
}

// NewPortManager creates a PortManager for the inclusive range [min, max].
func NewPortManager(min, max int) (*PortManager, error) {
	if min < 1 || max > 65535 || min > max {
		return nil, fmt.Errorf("invalid port range: min %d, max %d", min, max)
	}
	return &PortManager{min: min, max: max, inUse: map[int]struct{}{}, cursor: min}, nil
}

// AllocatePort returns a port that is neither handed out nor bound by anyone else.
// The search resumes after the last port returned so recently released ports are not
// reused right away.
func (pm *PortManager) AllocatePort() (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for n := pm.max - pm.min + 1; n > 0; n-- {
		port := pm.cursor
		if pm.cursor == pm.max {
			pm.cursor = pm.min
		} else {
			pm.cursor++
		}
		if _, taken := pm.inUse[port]; taken || !portFree(port) {
			continue
		}
		pm.inUse[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("no free port between %d and %d", pm.min, pm.max)
}

// ReleasePort returns port to the pool. Ports outside the range are ignored.
func (pm *PortManager) ReleasePort(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.inUse, port)
}

// Allocated returns the number of ports currently handed out.
func (pm *PortManager) Allocated() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.inUse)
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
