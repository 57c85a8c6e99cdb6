package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedeck/voicedeck/internal/persona"
)

const personaColumns = `id, name, description, voice, system_prompt, first_sentence, updated_at`

// PersonaStore implements [persona.Store] on the personas table.
//
// Obtain one via [Store.Personas].
type PersonaStore struct {
	pool *pgxpool.Pool
}

// List implements [persona.Store].
func (s *PersonaStore) List(ctx context.Context) ([]persona.Persona, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("persona store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanPersona)
	if err != nil {
		return nil, fmt.Errorf("persona store: scan rows: %w", err)
	}
	if out == nil {
		out = []persona.Persona{}
	}
	return out, nil
}

// Get implements [persona.Store].
func (s *PersonaStore) Get(ctx context.Context, id string) (persona.Persona, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = $1`, id)
	if err != nil {
		return persona.Persona{}, fmt.Errorf("persona store: get %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPersona)
	if errors.Is(err, pgx.ErrNoRows) {
		return persona.Persona{}, fmt.Errorf("persona store: get %q: %w", id, persona.ErrNotFound)
	}
	if err != nil {
		return persona.Persona{}, fmt.Errorf("persona store: get %q: %w", id, err)
	}
	return p, nil
}

// Upsert implements [persona.Store]. All personas are written in one
// transaction.
func (s *PersonaStore) Upsert(ctx context.Context, personas ...persona.Persona) error {
	if len(personas) == 0 {
		return nil
	}
	const q = `
		INSERT INTO personas (id, name, description, voice, system_prompt, first_sentence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
		    name           = EXCLUDED.name,
		    description    = EXCLUDED.description,
		    voice          = EXCLUDED.voice,
		    system_prompt  = EXCLUDED.system_prompt,
		    first_sentence = EXCLUDED.first_sentence,
		    updated_at     = now()`

	batch := &pgx.Batch{}
	for _, p := range personas {
		batch.Queue(q, p.ID, p.Name, p.Description, p.Voice, p.SystemPrompt, p.FirstSentence)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("persona store: upsert: %w", err)
	}
	return nil
}

// Delete implements [persona.Store].
func (s *PersonaStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM personas WHERE id = $1`, id); err != nil {
		return fmt.Errorf("persona store: delete %q: %w", id, err)
	}
	return nil
}

func scanPersona(row pgx.CollectableRow) (persona.Persona, error) {
	var p persona.Persona
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Voice,
		&p.SystemPrompt,
		&p.FirstSentence,
		&p.UpdatedAt,
	)
	return p, err
}
