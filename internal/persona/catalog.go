package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Mode names the backend a [Catalog] currently serves from.
type Mode string

const (
	// ModeRemote serves from the remote store and mirrors writes locally.
	ModeRemote Mode = "remote"

	// ModeLocal serves from the local cache only.
	ModeLocal Mode = "local"
)

// Catalog is the persona store used by the console. Reads go to the remote
// store while it is healthy; the first remote failure switches the catalog
// to its local cache for the rest of the process lifetime. Writes always hit
// the local cache first so the console stays usable offline.
//
// All methods are safe for concurrent use.
type Catalog struct {
	remote Store
	local  *MemStore
	mode   atomic.Value // Mode
	log    *slog.Logger
}

var _ Store = (*Catalog)(nil)

// NewCatalog returns a Catalog backed by remote. A nil remote yields a
// local-only catalog.
func NewCatalog(remote Store) *Catalog {
	c := &Catalog{remote: remote, local: NewMemStore(), log: slog.Default()}
	if remote == nil {
		c.mode.Store(ModeLocal)
	} else {
		c.mode.Store(ModeRemote)
	}
	return c
}

// Init probes the remote store and warms the local cache from it. A failing
// remote is not an error: the catalog falls back to local mode.
func (c *Catalog) Init(ctx context.Context) {
	if c.remote == nil {
		c.log.Info("persona: no remote store configured, using local mode")
		return
	}
	personas, err := c.remote.List(ctx)
	if err != nil {
		c.fallback("init", err)
		return
	}
	c.local.replace(personas)
	c.log.Info("persona: remote store reachable, using remote mode", "personas", len(personas))
}

// Mode reports the backend currently in use.
func (c *Catalog) Mode() Mode {
	return c.mode.Load().(Mode)
}

func (c *Catalog) useRemote() bool {
	return c.remote != nil && c.Mode() == ModeRemote
}

func (c *Catalog) fallback(op string, err error) {
	if c.mode.Swap(ModeLocal) == ModeRemote {
		c.log.Warn("persona: remote store failed, falling back to local cache", "op", op, "err", err)
	}
}

// List implements [Store].
func (c *Catalog) List(ctx context.Context) ([]Persona, error) {
	if c.useRemote() {
		personas, err := c.remote.List(ctx)
		if err == nil {
			c.local.replace(personas)
			return personas, nil
		}
		c.fallback("list", err)
	}
	return c.local.List(ctx)
}

// Get implements [Store].
func (c *Catalog) Get(ctx context.Context, id string) (Persona, error) {
	if c.useRemote() {
		p, err := c.remote.Get(ctx, id)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, ErrNotFound):
			return Persona{}, fmt.Errorf("persona %q: %w", id, ErrNotFound)
		default:
			c.fallback("get", err)
		}
	}
	p, err := c.local.Get(ctx, id)
	if err != nil {
		return Persona{}, fmt.Errorf("persona %q: %w", id, err)
	}
	return p, nil
}

// Upsert implements [Store]. Remote write failures are logged, not returned.
func (c *Catalog) Upsert(ctx context.Context, personas ...Persona) error {
	if err := c.local.Upsert(ctx, personas...); err != nil {
		return err
	}
	if c.useRemote() {
		if err := c.remote.Upsert(ctx, personas...); err != nil {
			c.log.Error("persona: remote upsert failed", "count", len(personas), "err", err)
		}
	}
	return nil
}

// Delete implements [Store]. Remote delete failures are logged, not returned.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.local.Delete(ctx, id); err != nil {
		return err
	}
	if c.useRemote() {
		if err := c.remote.Delete(ctx, id); err != nil {
			c.log.Error("persona: remote delete failed", "id", id, "err", err)
		}
	}
	return nil
}
