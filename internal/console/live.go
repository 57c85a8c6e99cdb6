package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/internal/persona"
)

// streamWriteTimeout bounds a single snapshot write to a websocket client.
const streamWriteTimeout = 5 * time.Second

// startRequest is the JSON body for POST /api/live/start.
type startRequest struct {
	PersonaID string `json:"persona_id"`
}

// handleSnapshot handles GET /api/live.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Snapshot())
}

// handleStart handles POST /api/live/start. It responds once the session is
// active or has failed.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PersonaID == "" {
		writeError(w, http.StatusBadRequest, "persona_id is required")
		return
	}

	ctx := r.Context()
	p, err := s.catalog.Get(ctx, req.PersonaID)
	if errors.Is(err, persona.ErrNotFound) {
		writeError(w, http.StatusNotFound, "persona not found")
		return
	}
	if err != nil {
		observe.Logger(ctx).Error("console: load persona", "id", req.PersonaID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load persona")
		return
	}

	if err := s.live.StartSession(ctx, p); err != nil {
		var se *live.SessionError
		if !errors.As(err, &se) {
			se = &live.SessionError{Kind: live.KindTransport, Msg: err.Error(), Err: err}
		}
		writeJSON(w, startStatus(se), errorBody{Error: se.Msg, Kind: se.Kind.String()})
		return
	}
	writeJSON(w, http.StatusOK, s.live.Snapshot())
}

// startStatus maps a session failure to an HTTP status.
func startStatus(se *live.SessionError) int {
	switch {
	case errors.Is(se, live.ErrConcurrentSession), errors.Is(se, live.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(se, live.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(se, live.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// handleEnd handles POST /api/live/end. Ending is valid in every state.
func (s *Server) handleEnd(w http.ResponseWriter, _ *http.Request) {
	s.live.EndSession()
	w.WriteHeader(http.StatusNoContent)
}

// primeResponse is the body of POST /api/live/prime.
type primeResponse struct {
	Primed bool `json:"primed"`
}

// handlePrime handles POST /api/live/prime, sent on the operator's first
// interaction with the console.
func (s *Server) handlePrime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, primeResponse{Primed: s.live.Prime()})
}

// handleStream handles GET /api/live/stream. It upgrades to a websocket and
// pushes a snapshot on connect and after every change until the client goes
// away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("console: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := s.live.Subscribe()
	defer cancel()

	// The stream is write-only; CloseRead handles pings and notices the
	// client closing.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := s.writeSnapshot(ctx, conn, snap); err != nil {
				s.log.Debug("console: stream write", "err", err)
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, conn *websocket.Conn, snap live.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, snap)
}
