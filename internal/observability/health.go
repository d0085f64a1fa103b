package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func() error

// Health aggregates dependency probes behind /healthz and /readyz handlers.
type Health struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	ready  bool
}

func NewHealth() *Health {
	return &Health{checks: make(map[string]CheckFunc)}
}

// Register adds a named dependency probe.
func (h *Health) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetReady flips readiness once startup recovery has completed.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   time.Time         `json:"time"`
}

// LivenessHandler always reports ok while the process is serving.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{Status: "ok", Time: time.Now().UTC()})
	}
}

// ReadinessHandler runs every registered probe and reports 503 until all
// pass and startup recovery is done.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		checks := make(map[string]CheckFunc, len(h.checks))
		for name, fn := range h.checks {
			checks[name] = fn
		}
		h.mu.RUnlock()

		status := healthStatus{Status: "ok", Checks: make(map[string]string), Time: time.Now().UTC()}
		code := http.StatusOK
		if !ready {
			status.Status = "starting"
			code = http.StatusServiceUnavailable
		}
		for name, fn := range checks {
			if err := fn(); err != nil {
				status.Checks[name] = err.Error()
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			} else {
				status.Checks[name] = "ok"
			}
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
