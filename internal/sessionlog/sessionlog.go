// Package sessionlog archives the transcripts of finished live sessions so the
// console can list them afterwards.
package sessionlog

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/voicedeck/voicedeck/internal/live"
)

// ErrNotFound is returned by Get when no record with the requested ID exists.
var ErrNotFound = errors.New("sessionlog: session not found")

// DefaultLimit is the number of records List returns when limit <= 0.
const DefaultLimit = 50

// Store archives and lists session records.
//
// All implementations must be safe for concurrent use.
type Store interface {
	live.Archiver

	// List returns up to limit records, most recently ended first.
	List(ctx context.Context, limit int) ([]live.SessionRecord, error)

	// Get returns the record with the given session ID.
	// Returns [ErrNotFound] when it does not exist.
	Get(ctx context.Context, id string) (live.SessionRecord, error)
}

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore keeps records in memory. Once more than capacity records are
// stored the oldest are evicted. The zero value keeps every record.
type MemStore struct {
	mu       sync.RWMutex
	capacity int
	records  []live.SessionRecord
}

// NewMemStore returns a MemStore that retains at most capacity records. A
// capacity <= 0 means unbounded.
func NewMemStore(capacity int) *MemStore {
	return &MemStore{capacity: capacity}
}

// Archive implements [live.Archiver]. Archiving an ID again replaces the
// previous record.
func (s *MemStore) Archive(_ context.Context, rec live.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("sessionlog: record has no id")
	}
	rec.Transcripts = slices.Clone(rec.Transcripts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.DeleteFunc(s.records, func(r live.SessionRecord) bool {
		return r.ID == rec.ID
	})
	s.records = append(s.records, rec)
	if s.capacity > 0 && len(s.records) > s.capacity {
		s.records = slices.Delete(s.records, 0, len(s.records)-s.capacity)
	}
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, limit int) ([]live.SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.RLock()
	out := slices.Clone(s.records)
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b live.SessionRecord) int {
		return b.EndedAt.Compare(a.EndedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []live.SessionRecord{}
	}
	return out, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (live.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return live.SessionRecord{}, ErrNotFound
}
