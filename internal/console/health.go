package console

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/voicedeck/voicedeck/internal/persona"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and an error describing the failure otherwise.
type Checker struct {
	// Name appears as a key in the /readyz response (e.g. "database").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// healthResult is the JSON response body for health endpoints.
type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Health struct {
	checkers []Checker
}

// NewHealth returns a Health that runs checkers on each /readyz request.
func NewHealth(checkers ...Checker) *Health {
	return &Health{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Health) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

// Readyz returns 200 only when every checker passes. Checkers run
// concurrently, each with a [checkTimeout] deadline derived from the request
// context.
func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()

	res := healthResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// checkCatalog fails when personas cannot be listed. A catalog that fell
// back to its local cache is still ready.
func (s *Server) checkCatalog(ctx context.Context) error {
	if _, err := s.catalog.List(ctx); err != nil {
		return fmt.Errorf("list personas (%s mode): %w", s.catalog.Mode(), err)
	}
	if s.catalog.Mode() == persona.ModeLocal {
		s.log.Debug("console: persona catalog serving from local cache")
	}
	return nil
}
