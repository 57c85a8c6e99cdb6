// Package postgres stores personas and archived live-session transcripts in
// PostgreSQL.
//
// Both stores share a single [pgxpool.Pool]:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	catalog := persona.NewCatalog(store.Personas())
//	manager := live.NewManager(live.Config{Archive: store.Sessions(), …})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
)

// Compile-time interface checks.
var (
	_ persona.Store    = (*PersonaStore)(nil)
	_ sessionlog.Store = (*SessionLog)(nil)
)

// Store holds the connection pool and the table-specific stores.
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	personas *PersonaStore
	sessions *SessionLog
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		personas: &PersonaStore{pool: pool},
		sessions: &SessionLog{pool: pool},
	}, nil
}

// Personas returns the persona table store.
func (s *Store) Personas() *PersonaStore { return s.personas }

// Sessions returns the session log.
func (s *Store) Sessions() *SessionLog { return s.sessions }

// Ping reports whether the database is reachable. It backs the readiness
// check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
