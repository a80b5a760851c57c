package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/skolnik/skolnik/internal/domain/model"
)

// seenHandler serves the acknowledgement endpoint.
type seenHandler struct {
	deps Dependencies
}

func newSeenHandler(deps Dependencies) *seenHandler {
	return &seenHandler{deps: deps}
}

type seenRequest struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
	Person string `json:"person,omitempty"`
}

func (sr seenRequest) validate() error {
	if strings.TrimSpace(sr.Domain) == "" {
		return errors.New("missing domain")
	}
	if _, ok := model.ParseDomain(sr.Domain); !ok {
		return errors.New("unknown domain")
	}
	if strings.TrimSpace(sr.ID) == "" {
		return errors.New("missing id")
	}
	return nil
}

// HandlePost serves POST /seen. Acknowledges one record without waiting for
// the next scheduled refresh.
func (h *seenHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	var req seenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	domain, _ := model.ParseDomain(req.Domain)
	if err := h.deps.MarkSeen(r.Context(), domain, req.ID, req.Person); err != nil {
		writeDepError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// refreshHandler serves the manual refresh endpoint.
type refreshHandler struct {
	deps Dependencies
}

func newRefreshHandler(deps Dependencies) *refreshHandler {
	return &refreshHandler{deps: deps}
}

type refreshRequest struct {
	Domain string `json:"domain,omitempty"` // empty means all domains
	Person string `json:"person,omitempty"`
}

// HandlePost serves POST /refresh. Triggers an immediate out-of-cycle
// fetch; an in-flight cycle for the same pair is not cancelled, the trigger
// coalesces to run right after it.
func (h *refreshHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	if req.Domain != "" {
		if _, ok := model.ParseDomain(req.Domain); !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", errors.New("unknown domain"))
			return
		}
	}

	if err := h.deps.Refresh(r.Context(), req.Domain, req.Person); err != nil {
		writeDepError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
