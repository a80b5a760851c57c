package api

import (
	"context"
	"net/http"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/store"
)

// recordsHandler serves one domain's read endpoint. The query function is
// the service's read path; the handler only parses parameters and shapes
// the response.
type recordsHandler[T model.Record] struct {
	query        func(ctx context.Context, person string, limit int) (*store.Snapshot[T], error)
	defaultLimit int
}

func newRecordsHandler[T model.Record](query func(ctx context.Context, person string, limit int) (*store.Snapshot[T], error), defaultLimit int) *recordsHandler[T] {
	return &recordsHandler[T]{query: query, defaultLimit: defaultLimit}
}

// HandleGet serves GET /<domain>?person=&limit=.
func (h *recordsHandler[T]) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	limit, err := parseLimit(r, h.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err)
		return
	}

	snap, err := h.query(r.Context(), r.URL.Query().Get("person"), limit)
	if err != nil {
		writeDepError(w, err)
		return
	}
	if snap == nil {
		// No successful fetch yet: an empty, honest response.
		snap = &store.Snapshot[T]{Annotated: []model.Annotated[T]{}}
	}
	writeJSON(w, http.StatusOK, snap)
}
