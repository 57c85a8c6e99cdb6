package sessionlog

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/resilience"
)

var _ Store = (*Guarded)(nil)

// Guarded archives to a remote store behind a circuit breaker. Records the
// remote rejects, or that arrive while the breaker is open, are kept in a
// local MemStore and merged into List and Get results.
type Guarded struct {
	remote  Store
	local   *MemStore
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewGuarded wraps remote. A nil local gets an unbounded MemStore.
func NewGuarded(remote Store, local *MemStore, b *resilience.Breaker) *Guarded {
	if local == nil {
		local = NewMemStore(0)
	}
	return &Guarded{remote: remote, local: local, breaker: b, log: slog.Default()}
}

// Archive implements [live.Archiver].
func (g *Guarded) Archive(ctx context.Context, rec live.SessionRecord) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.remote.Archive(ctx, rec)
	})
	if err == nil {
		return nil
	}
	g.log.Warn("sessionlog: remote archive failed, keeping record locally", "session_id", rec.ID, "err", err)
	return g.local.Archive(ctx, rec)
}

// List implements [Store.List]. When the remote is unavailable only local
// records are returned.
func (g *Guarded) List(ctx context.Context, limit int) ([]live.SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	local, err := g.local.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	var remote []live.SessionRecord
	err = g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		remote, err = g.remote.List(ctx, limit)
		return err
	})
	if err != nil {
		g.log.Warn("sessionlog: remote list failed, serving local records", "err", err)
		return local, nil
	}
	return merge(remote, local, limit), nil
}

// Get implements [Store.Get].
func (g *Guarded) Get(ctx context.Context, id string) (live.SessionRecord, error) {
	var rec live.SessionRecord
	var missing bool
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = g.remote.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			missing = true
			return nil
		}
		return err
	})
	if err == nil && !missing {
		return rec, nil
	}

	rec, lerr := g.local.Get(ctx, id)
	if lerr == nil {
		return rec, nil
	}
	if err != nil {
		return live.SessionRecord{}, err
	}
	return live.SessionRecord{}, ErrNotFound
}

// merge combines both lists, preferring remote records on duplicate IDs, and
// returns the limit most recently ended.
func merge(remote, local []live.SessionRecord, limit int) []live.SessionRecord {
	out := slices.Clone(remote)
	for _, r := range local {
		if !slices.ContainsFunc(out, func(o live.SessionRecord) bool { return o.ID == r.ID }) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b live.SessionRecord) int {
		return b.EndedAt.Compare(a.EndedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []live.SessionRecord{}
	}
	return out
}
