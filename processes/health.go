package processes

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HealthChecker probes a managed process and records the result on it.
type HealthChecker interface {
	Check(ctx context.Context, process *ManagedProcess) (State, error)
}

// HTTPHealthChecker probes Spec.HealthPath on the process's port with a GET request.
// Only 200 counts as healthy.
type HTTPHealthChecker struct {
	client *http.Client
}

// NewHTTPHealthChecker creates a checker whose requests give up after timeout.
func NewHTTPHealthChecker(timeout time.Duration) *HTTPHealthChecker {
	return &HTTPHealthChecker{client: &http.Client{Timeout: timeout}}
}

// Check reports failed for an exited process without probing it. A process without a
// health path is running for as long as it has not exited.
func (h *HTTPHealthChecker) Check(ctx context.Context, process *ManagedProcess) (State, error) {
	name := process.Spec.Name
	select {
	case <-process.Done():
		return StateFailed, fmt.Errorf("%s exited: %v", name, process.ExitErr())
	default:
	}

	state, err := h.probe(ctx, process.Spec)
	process.SetState(state)
	if err != nil {
		return state, fmt.Errorf("%s: %w", name, err)
	}
	return state, nil
}

func (h *HTTPHealthChecker) probe(ctx context.Context, spec Spec) (State, error) {
	if spec.HealthPath == "" {
		return StateRunning, nil
	}
	if spec.Port <= 0 {
		return StateUnhealthy, fmt.Errorf("no port to probe %s on", spec.HealthPath)
	}

	target := "http://localhost:" + strconv.Itoa(spec.Port) + spec.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return StateUnhealthy, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return StateUnhealthy, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StateUnhealthy, fmt.Errorf("GET %s returned %s", target, resp.Status)
	}
	return StateRunning, nil
}
