// Package health serves Kubernetes-style liveness and readiness probes.
// Checks run on a shared ticker; a check must fail a few times in a row
// before its probe flips, so one slow database ping does not bounce the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// failureThreshold is how many consecutive failures mark a check unhealthy.
// A single success marks it healthy again.
const failureThreshold = 3

// CheckFunc probes one dependency. Nil means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	fails   int
	healthy bool
	lastErr error
}

// Health tracks registered checks and the manual ready flag.
type Health struct {
	mu        sync.Mutex
	ready     bool
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New returns a Health in the not-ready state. Call SetReady(true) once
// startup finishes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a process-health check (goroutine leaks,
// deadlocks). Register before Start.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &check{name: name, timeout: timeout, fn: fn, healthy: true})
}

// AddReadinessCheck registers a dependency check (database, upstream API).
// Register before Start.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &check{name: name, timeout: timeout, fn: fn, healthy: true})
}

// Start runs every registered check once, then again each interval, until
// Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		h.runAll(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.runAll(ctx)
			}
		}
	}()
}

func (h *Health) runAll(ctx context.Context) {
	h.mu.Lock()
	checks := append(append([]*check(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(checkCtx)
		cancel()

		h.mu.Lock()
		c.lastErr = err
		if err != nil {
			c.fails++
			if c.fails >= failureThreshold {
				c.healthy = false
			}
		} else {
			c.fails = 0
			c.healthy = true
		}
		h.mu.Unlock()
	}
}

// Stop halts the background check loop. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set false during graceful
// shutdown so the load balancer drains before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady reports whether the service should receive traffic: manually ready
// and every readiness check healthy.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return false
	}
	for _, c := range h.readiness {
		if !c.healthy {
			return false
		}
	}
	return true
}

// LiveEndpoint handles /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	failures := failuresOf(h.liveness)
	h.mu.Unlock()

	writeProbe(w, failures)
}

// ReadyEndpoint handles /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	failures := failuresOf(h.readiness)
	if !h.ready {
		failures["_ready"] = "service not marked ready"
	}
	h.mu.Unlock()

	writeProbe(w, failures)
}

// failuresOf is called with h.mu held.
func failuresOf(checks []*check) map[string]string {
	failures := make(map[string]string)
	for _, c := range checks {
		if c.healthy {
			continue
		}
		msg := "unhealthy"
		if c.lastErr != nil {
			msg = c.lastErr.Error()
		}
		failures[c.name] = msg
	}
	return failures
}

func writeProbe(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	body := map[string]any{"status": "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		body["status"] = "unhealthy"
		body["checks"] = failures
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
