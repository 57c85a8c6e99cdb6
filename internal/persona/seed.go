package persona

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// Seeder adds the premade personas that are missing from a store. Only one
// seeding pass runs at a time; concurrent calls return immediately.
type Seeder struct {
	store   Store
	voices  func() []realtime.Voice
	premade []Persona

	mu      sync.Mutex
	seeding bool
}

// NewSeeder returns a Seeder writing premade to store. voices supplies the
// voice IDs assigned round-robin to seeded personas.
func NewSeeder(store Store, voices func() []realtime.Voice, premade []Persona) *Seeder {
	return &Seeder{store: store, voices: voices, premade: premade}
}

// Seed upserts every premade persona whose ID is not yet in the store and
// returns how many it added. Existing personas are left untouched.
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.seeding {
		s.mu.Unlock()
		return 0, nil
	}
	s.seeding = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.seeding = false
		s.mu.Unlock()
	}()

	voices := s.voices()
	if len(voices) == 0 {
		slog.Warn("persona: no voices available to assign to premade personas")
		return 0, nil
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("persona: seed: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.ID] = true
	}

	var missing []Persona
	for _, p := range s.premade {
		if have[p.ID] {
			continue
		}
		p.Voice = voices[len(missing)%len(voices)].ID
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := s.store.Upsert(ctx, missing...); err != nil {
		return 0, fmt.Errorf("persona: seed: %w", err)
	}
	slog.Info("persona: seeded premade personas", "count", len(missing))
	return len(missing), nil
}
