package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const maxHealthErrors = 5

// HealthChecker tracks liveness of the signal feeds and price refresh
type HealthChecker struct {
	mu          sync.RWMutex
	startedAt   time.Time
	lastSignal  time.Time
	lastReprice time.Time
	feeds       map[string]bool
	errors      []string
	now         func() time.Time
}

type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	LastSignal  time.Time       `json:"last_signal"`
	LastReprice time.Time       `json:"last_reprice"`
	Feeds       map[string]bool `json:"feeds"`
	Uptime      string          `json:"uptime"`
	Errors      []string        `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startedAt: time.Now(),
		feeds:     make(map[string]bool),
		errors:    make([]string, 0),
		now:       time.Now,
	}
}

// MarkSignal records that a signal reached the filter
func (h *HealthChecker) MarkSignal() {
	h.mu.Lock()
	h.lastSignal = h.now()
	h.mu.Unlock()
}

// MarkReprice records a completed reprice cycle
func (h *HealthChecker) MarkReprice() {
	h.mu.Lock()
	h.lastReprice = h.now()
	h.mu.Unlock()
}

// SetFeed records whether a feed is currently delivering
func (h *HealthChecker) SetFeed(name string, up bool) {
	h.mu.Lock()
	h.feeds[name] = up
	h.mu.Unlock()
}

// RemoveFeed forgets a feed that was stopped on purpose
func (h *HealthChecker) RemoveFeed(name string) {
	h.mu.Lock()
	delete(h.feeds, name)
	h.mu.Unlock()
}

// RecordError keeps the most recent errors for the health report
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > maxHealthErrors {
		h.errors = h.errors[len(h.errors)-maxHealthErrors:]
	}
}

// ClearErrors drops the recorded errors, e.g. after a successful cycle
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	h.errors = h.errors[:0]
	h.mu.Unlock()
}

// Status computes the current health report. Any feed down makes the
// report degraded; recorded errors make it unhealthy.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	feeds := make(map[string]bool, len(h.feeds))
	for name, up := range h.feeds {
		feeds[name] = up
		if !up {
			status = "degraded"
		}
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:      status,
		Timestamp:   h.now(),
		LastSignal:  h.lastSignal,
		LastReprice: h.lastReprice,
		Feeds:       feeds,
		Uptime:      h.now().Sub(h.startedAt).Round(time.Second).String(),
		Errors:      append([]string(nil), h.errors...),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(health)
}
