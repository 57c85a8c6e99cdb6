package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// personaList is the body of GET /api/personas.
type personaList struct {
	Mode     persona.Mode      `json:"mode"`
	Personas []persona.Persona `json:"personas"`
}

// handleListPersonas handles GET /api/personas.
func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	ps, err := s.catalog.List(r.Context())
	if err != nil {
		s.log.Error("console: list personas", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list personas")
		return
	}
	writeJSON(w, http.StatusOK, personaList{Mode: s.catalog.Mode(), Personas: ps})
}

// handleGetPersona handles GET /api/personas/{id}.
func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, persona.ErrNotFound) {
		writeError(w, http.StatusNotFound, "persona not found")
		return
	}
	if err != nil {
		s.log.Error("console: get persona", "id", r.PathValue("id"), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load persona")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutPersona handles PUT /api/personas/{id}. The path ID wins over any
// ID in the body.
func (s *Server) handlePutPersona(w http.ResponseWriter, r *http.Request) {
	var p persona.Persona
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = r.PathValue("id")
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Voice != "" && !s.knownVoice(p.Voice) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown voice %q", p.Voice))
		return
	}
	if err := s.catalog.Upsert(r.Context(), p); err != nil {
		s.log.Error("console: upsert persona", "id", p.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save persona")
		return
	}
	saved, err := s.catalog.Get(r.Context(), p.ID)
	if err != nil {
		saved = p
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleDeletePersona handles DELETE /api/personas/{id}.
func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.catalog.Delete(r.Context(), id); err != nil {
		s.log.Error("console: delete persona", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete persona")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVoices handles GET /api/voices.
func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.voices()
	if voices == nil {
		voices = []realtime.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

// knownVoice reports whether id is offered by the provider. Any voice is
// accepted when the provider lists none.
func (s *Server) knownVoice(id string) bool {
	voices := s.voices()
	if len(voices) == 0 {
		return true
	}
	return slices.ContainsFunc(voices, func(v realtime.Voice) bool { return v.ID == id })
}
