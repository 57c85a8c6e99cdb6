package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPersonas = `
CREATE TABLE IF NOT EXISTS personas (
    id             TEXT         PRIMARY KEY,
    name           TEXT         NOT NULL,
    description    TEXT         NOT NULL DEFAULT '',
    voice          TEXT         NOT NULL DEFAULT '',
    system_prompt  TEXT         NOT NULL,
    first_sentence TEXT         NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlLiveTranscripts = `
CREATE TABLE IF NOT EXISTS live_transcripts (
    id            TEXT         PRIMARY KEY,
    persona_id    TEXT         NOT NULL DEFAULT '',
    persona_name  TEXT         NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ  NOT NULL,
    ended_at      TIMESTAMPTZ  NOT NULL,
    error         TEXT         NOT NULL DEFAULT '',
    transcripts   JSONB        NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_live_transcripts_ended_at
    ON live_transcripts (ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_live_transcripts_persona_id
    ON live_transcripts (persona_id);
`

// Migrate creates the persona and session log tables if they do not exist.
// It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlPersonas, ddlLiveTranscripts} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
