package api

import "net/http"

// statsHandler exposes service statistics for monitoring.
type statsHandler struct {
	deps Dependencies
}

func newStatsHandler(deps Dependencies) *statsHandler {
	return &statsHandler{deps: deps}
}

// HandleStats serves GET /stats.
func (h *statsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Stats())
}
