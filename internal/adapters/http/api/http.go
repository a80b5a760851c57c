// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/store"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
//
// Query methods are read-only: they never trigger a fetch and may serve a
// stale or empty snapshot. An empty person selects the first tracked one.
type Dependencies interface {
	QueryGrades(ctx context.Context, person string, limit int) (*store.Snapshot[model.Grade], error)
	QueryMessages(ctx context.Context, person string, limit int) (*store.Snapshot[model.Message], error)
	QueryTimetable(ctx context.Context, person string, limit int) (*store.Snapshot[model.TimetableSlot], error)

	// MarkSeen acknowledges one record out of band. Acknowledging an
	// already-seen or not-yet-fetched identifier succeeds as a no-op.
	MarkSeen(ctx context.Context, domain model.Domain, id, person string) error

	// Refresh triggers an immediate out-of-cycle fetch. Empty domain means
	// every domain.
	Refresh(ctx context.Context, domain, person string) error

	// Stats exposes service statistics for monitoring.
	Stats() map[string]any
}

// Default result limits per domain: grades and messages are record counts,
// timetable is week windows.
const (
	DefaultGradesLimit    = 50
	DefaultMessagesLimit  = 50
	DefaultTimetableLimit = 3
)

// Server wires HTTP routes for the business API.
type Server struct {
	gradesHandler    *recordsHandler[model.Grade]
	messagesHandler  *recordsHandler[model.Message]
	timetableHandler *recordsHandler[model.TimetableSlot]
	seenHandler      *seenHandler
	refreshHandler   *refreshHandler
	healthHandler    *healthHandler
	statsHandler     *statsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		gradesHandler:    newRecordsHandler(deps.QueryGrades, DefaultGradesLimit),
		messagesHandler:  newRecordsHandler(deps.QueryMessages, DefaultMessagesLimit),
		timetableHandler: newRecordsHandler(deps.QueryTimetable, DefaultTimetableLimit),
		seenHandler:      newSeenHandler(deps),
		refreshHandler:   newRefreshHandler(deps),
		healthHandler:    newHealthHandler(),
		statsHandler:     newStatsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/grades", MetricsMiddleware(s.gradesHandler.HandleGet, "grades"))
	mux.HandleFunc("/messages", MetricsMiddleware(s.messagesHandler.HandleGet, "messages"))
	mux.HandleFunc("/timetable", MetricsMiddleware(s.timetableHandler.HandleGet, "timetable"))
	mux.HandleFunc("/seen", MetricsMiddleware(s.seenHandler.HandlePost, "seen"))
	mux.HandleFunc("/refresh", MetricsMiddleware(s.refreshHandler.HandlePost, "refresh"))
}
