package console

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
)

// maxSessionLimit caps the limit query parameter of the session list.
const maxSessionLimit = 500

// handleListSessions handles GET /api/live/sessions?limit=N.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, []live.SessionRecord{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxSessionLimit)
	}
	recs, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		s.log.Error("console: list sessions", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleGetSession handles GET /api/live/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rec, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, sessionlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.log.Error("console: get session", "id", r.PathValue("id"), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
