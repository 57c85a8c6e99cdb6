// Package console serves the operator console's HTTP API.
//
// Routes:
//
//	GET    /api/personas               list personas
//	GET    /api/personas/{id}          one persona
//	PUT    /api/personas/{id}          create or replace a persona
//	DELETE /api/personas/{id}          delete a persona
//	GET    /api/voices                 prebuilt voices of the realtime provider
//	GET    /api/live                   live session snapshot
//	POST   /api/live/start             start a session: {"persona_id": "..."}
//	POST   /api/live/end               end the session
//	POST   /api/live/prime             prime the hold cue
//	GET    /api/live/stream            websocket of snapshots
//	GET    /api/live/sessions          archived session transcripts
//	GET    /api/live/sessions/{id}     one archived session
//	GET    /healthz, /readyz           liveness and readiness
//	GET    /metrics                    Prometheus scrape endpoint
package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// Live is the part of [live.Manager] the console drives.
type Live interface {
	StartSession(ctx context.Context, p persona.Persona) error
	EndSession()
	Prime() bool
	Snapshot() live.Snapshot
	Subscribe() (<-chan live.Snapshot, func())
}

// Catalog is the persona store the console reads and edits.
type Catalog interface {
	persona.Store
	Mode() persona.Mode
}

// Config holds the dependencies of a [Server].
type Config struct {
	Live     Live
	Catalog  Catalog
	Sessions sessionlog.Store

	// Voices lists the voices personas may use.
	Voices func() []realtime.Voice

	// Checks are evaluated by /readyz in addition to the built-in ones.
	Checks []Checker

	// Metrics is served on /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler

	// Observe wraps every route with request logging and latency metrics.
	// Defaults to [observe.DefaultMetrics].
	Observe *observe.Metrics

	Logger *slog.Logger
}

// Server is the console HTTP API.
type Server struct {
	live     Live
	catalog  Catalog
	sessions sessionlog.Store
	voices   func() []realtime.Voice
	health   *Health
	metrics  http.Handler
	observe  *observe.Metrics
	log      *slog.Logger
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	s := &Server{
		live:     cfg.Live,
		catalog:  cfg.Catalog,
		sessions: cfg.Sessions,
		voices:   cfg.Voices,
		metrics:  cfg.Metrics,
		observe:  cfg.Observe,
		log:      cfg.Logger,
	}
	if s.voices == nil {
		s.voices = func() []realtime.Voice { return nil }
	}
	if s.metrics == nil {
		s.metrics = promhttp.Handler()
	}
	if s.observe == nil {
		s.observe = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	checks := []Checker{{Name: "personas", Check: s.checkCatalog}}
	s.health = NewHealth(append(checks, cfg.Checks...)...)
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/personas", s.handleListPersonas)
	mux.HandleFunc("GET /api/personas/{id}", s.handleGetPersona)
	mux.HandleFunc("PUT /api/personas/{id}", s.handlePutPersona)
	mux.HandleFunc("DELETE /api/personas/{id}", s.handleDeletePersona)
	mux.HandleFunc("GET /api/voices", s.handleVoices)

	mux.HandleFunc("GET /api/live", s.handleSnapshot)
	mux.HandleFunc("POST /api/live/start", s.handleStart)
	mux.HandleFunc("POST /api/live/end", s.handleEnd)
	mux.HandleFunc("POST /api/live/prime", s.handlePrime)
	mux.HandleFunc("GET /api/live/stream", s.handleStream)
	mux.HandleFunc("GET /api/live/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/live/sessions/{id}", s.handleGetSession)

	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metrics)

	return observe.Middleware(s.observe)(mux)
}

// errorBody is the JSON body of every API error.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("console: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
