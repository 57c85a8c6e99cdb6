package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
)

const sessionColumns = `id, persona_id, persona_name, started_at, ended_at, error, transcripts`

// SessionLog implements [sessionlog.Store] on the live_transcripts table.
// Transcripts are stored as a JSONB array.
//
// Obtain one via [Store.Sessions].
type SessionLog struct {
	pool *pgxpool.Pool
}

// Archive implements [live.Archiver]. Archiving an existing ID replaces the
// row.
func (s *SessionLog) Archive(ctx context.Context, rec live.SessionRecord) error {
	transcripts := rec.Transcripts
	if transcripts == nil {
		transcripts = []live.TranscriptEntry{}
	}
	raw, err := json.Marshal(transcripts)
	if err != nil {
		return fmt.Errorf("session log: encode transcripts: %w", err)
	}

	const q = `
		INSERT INTO live_transcripts
		    (id, persona_id, persona_name, started_at, ended_at, error, transcripts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    persona_id   = EXCLUDED.persona_id,
		    persona_name = EXCLUDED.persona_name,
		    started_at   = EXCLUDED.started_at,
		    ended_at     = EXCLUDED.ended_at,
		    error        = EXCLUDED.error,
		    transcripts  = EXCLUDED.transcripts`

	_, err = s.pool.Exec(ctx, q,
		rec.ID,
		rec.PersonaID,
		rec.PersonaName,
		rec.StartedAt,
		rec.EndedAt,
		rec.Error,
		raw,
	)
	if err != nil {
		return fmt.Errorf("session log: archive %q: %w", rec.ID, err)
	}
	return nil
}

// List implements [sessionlog.Store].
func (s *SessionLog) List(ctx context.Context, limit int) ([]live.SessionRecord, error) {
	if limit <= 0 {
		limit = sessionlog.DefaultLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM live_transcripts ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("session log: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("session log: scan rows: %w", err)
	}
	if out == nil {
		out = []live.SessionRecord{}
	}
	return out, nil
}

// Get implements [sessionlog.Store].
func (s *SessionLog) Get(ctx context.Context, id string) (live.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM live_transcripts WHERE id = $1`, id)
	if err != nil {
		return live.SessionRecord{}, fmt.Errorf("session log: get %q: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return live.SessionRecord{}, sessionlog.ErrNotFound
	}
	if err != nil {
		return live.SessionRecord{}, fmt.Errorf("session log: get %q: %w", id, err)
	}
	return rec, nil
}

func scanRecord(row pgx.CollectableRow) (live.SessionRecord, error) {
	var (
		rec live.SessionRecord
		raw []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.PersonaID,
		&rec.PersonaName,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.Error,
		&raw,
	); err != nil {
		return live.SessionRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Transcripts); err != nil {
		return live.SessionRecord{}, fmt.Errorf("decode transcripts: %w", err)
	}
	return rec, nil
}
