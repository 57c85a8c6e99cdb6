package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
	"github.com/voicedeck/voicedeck/internal/storage/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICEDECK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICEDECK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICEDECK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS personas CASCADE",
		"DROP TABLE IF EXISTS live_transcripts CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestNewStore_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.NewStore(context.Background(), "::not a dsn::"); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}

func TestPersonas_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ps := store.Personas()

	list, err := ps.List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("List on empty table = %v, %v", list, err)
	}

	premade := persona.Premade()
	if err := ps.Upsert(ctx, premade...); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	list, err = ps.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != len(premade) {
		t.Fatalf("List len = %d, want %d", len(list), len(premade))
	}
	if list[0].ID != "premade-agent-01" || list[0].UpdatedAt.IsZero() {
		t.Errorf("first persona = %+v", list[0])
	}

	updated := premade[1]
	updated.Voice = "Charon"
	if err := ps.Upsert(ctx, updated); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	got, err := ps.Get(ctx, updated.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Voice != "Charon" || got.FirstSentence != updated.FirstSentence {
		t.Errorf("Get = %+v", got)
	}

	if err := ps.Delete(ctx, updated.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ps.Get(ctx, updated.ID); !errors.Is(err, persona.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	if err := ps.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestPersonas_BackCatalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cat := persona.NewCatalog(store.Personas())
	cat.Init(ctx)
	if cat.Mode() != persona.ModeRemote {
		t.Fatalf("mode = %v, want remote", cat.Mode())
	}
	if err := cat.Upsert(ctx, persona.Premade()[0]); err != nil {
		t.Fatalf("catalog Upsert: %v", err)
	}
	got, err := store.Personas().Get(ctx, "premade-agent-01")
	if err != nil || got.Name == "" {
		t.Errorf("persona not written through: %+v, %v", got, err)
	}
}

func TestSessionLog_ArchiveListGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	log := store.Sessions()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2"} {
		rec := live.SessionRecord{
			ID:          id,
			PersonaID:   "premade-agent-02",
			PersonaName: "Leo",
			StartedAt:   base,
			EndedAt:     base.Add(time.Duration(i+1) * time.Minute),
			Transcripts: []live.TranscriptEntry{
				{ID: 1, Role: live.RoleUser, Text: "Where is my order?", IsFinal: true},
				{ID: 2, Role: live.RoleModel, Text: "One moment, let me check.", IsFinal: true},
			},
		}
		if err := log.Archive(ctx, rec); err != nil {
			t.Fatalf("Archive(%s): %v", id, err)
		}
	}

	list, err := log.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "s2" {
		t.Fatalf("List = %+v, want s2 first", list)
	}

	got, err := log.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Transcripts) != 2 || got.Transcripts[1].Role != live.RoleModel {
		t.Errorf("transcripts = %+v", got.Transcripts)
	}
	if !got.EndedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("EndedAt = %v", got.EndedAt)
	}

	if _, err := log.Get(ctx, "missing"); !errors.Is(err, sessionlog.ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}
}

func TestSessionLog_NilTranscripts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.Sessions().Archive(ctx, live.SessionRecord{ID: "empty", StartedAt: now, EndedAt: now}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	got, err := store.Sessions().Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Transcripts == nil || len(got.Transcripts) != 0 {
		t.Errorf("transcripts = %#v, want empty slice", got.Transcripts)
	}
}
