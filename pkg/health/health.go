// Package health provides readiness state tracking and HTTP health check handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// defaultCheckTimeout bounds each dependency check.
const defaultCheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Checker tracks the readiness state of the service and the health of its
// dependencies. It is safe for concurrent use.
type Checker struct {
	state   atomic.Int32
	timeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{timeout: defaultCheckTimeout}
}

// AddCheck registers a dependency probed on every readiness request.
func (c *Checker) AddCheck(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, fn: fn})
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and every registered check passes, and 503 otherwise.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}

		results, ok := c.runChecks(r.Context())
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: results})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: c.State(), Checks: results})
	}
}

func (c *Checker) runChecks(ctx context.Context) (map[string]string, bool) {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	if len(checks) == 0 {
		return nil, true
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	results := make(map[string]string, len(checks))
	ok := true
	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.fn(checkCtx)
		cancel()
		if err != nil {
			results[check.name] = err.Error()
			ok = false
			continue
		}
		results[check.name] = "ok"
	}
	return results, ok
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
