package api

import (
	"net/http"

	"github.com/skolnik/skolnik/pkg/metrics"
)

// healthHandler serves liveness and the Prometheus scrape endpoint.
type healthHandler struct{}

func newHealthHandler() *healthHandler {
	return &healthHandler{}
}

// HandleHealth serves GET /healthz.
func (h *healthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMetrics serves GET /metrics from the service registry.
func (h *healthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}
