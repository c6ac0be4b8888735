package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthStatusTransitions(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *HealthChecker)
		status string
		code   int
	}{
		{"fresh checker is healthy", func(*HealthChecker) {}, "healthy", http.StatusOK},
		{"feed down is degraded", func(h *HealthChecker) { h.SetFeed("poller", false) }, "degraded", http.StatusServiceUnavailable},
		{"errors are unhealthy", func(h *HealthChecker) {
			h.SetFeed("poller", true)
			h.RecordError("store offline")
		}, "unhealthy", http.StatusInternalServerError},
		{"cleared errors recover", func(h *HealthChecker) {
			h.RecordError("store offline")
			h.ClearErrors()
		}, "healthy", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			tt.setup(h)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, rec.Code)

			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
		})
	}
}

func TestHealthKeepsRecentErrors(t *testing.T) {
	h := NewHealthChecker()
	for i := 0; i < 8; i++ {
		h.RecordError(string(rune('a' + i)))
	}
	assert.Equal(t, []string{"d", "e", "f", "g", "h"}, h.Status().Errors)
}

func TestMetricsHandlerExposesEngineMetrics(t *testing.T) {
	RecordSignal("executed")
	RecordOpen("ETH", "long")
	RecordClose("ETH", 1.5)
	UpdateLedger(980, 100, 0)
	SetEngineEnabled(true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autotrader_signals_total{outcome="executed"}`)
	assert.Contains(t, rec.Body.String(), "autotrader_virtual_balance 980")
	assert.Contains(t, rec.Body.String(), "autotrader_engine_enabled 1")
}
