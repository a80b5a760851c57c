// Package store keeps the in-memory authoritative cache for one record
// domain, keyed by person. Snapshots are replaced wholesale so readers never
// observe a half-updated fetch cycle.
package store

import (
	"sync"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/domain/stats"
)

// Snapshot is the atomic current state for one (person, domain): the raw
// record list, the annotated list served to consumers, the success flag of
// the last fetch attempt and, for grades, the derived statistics.
//
// A Snapshot is immutable once published. Mutation goes through Replace (new
// snapshot from a fetch cycle), MarkFailed (flag-only copy) or Ack
// (copy-on-write flag flip).
type Snapshot[T model.Record] struct {
	Raw        []T                  `json:"-"`
	Annotated  []model.Annotated[T] `json:"items"`
	Stats      *stats.Overview      `json:"stats,omitempty"` // grades only
	LastSyncOK bool                 `json:"last_sync_ok"`
	FetchedAt  time.Time            `json:"fetched_at"`
}

// Store holds one snapshot per person. Entries are created lazily on first
// successful fetch and live for the process lifetime.
type Store[T model.Record] struct {
	mu       sync.RWMutex
	byPerson map[model.PersonKey]*Snapshot[T]
}

// New creates an empty Store.
func New[T model.Record]() *Store[T] {
	return &Store[T]{byPerson: make(map[model.PersonKey]*Snapshot[T])}
}

// Get returns the current snapshot for person, or false when no fetch has
// ever completed for them. The returned snapshot must be treated as
// read-only.
func (s *Store[T]) Get(person model.PersonKey) (*Snapshot[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byPerson[person]
	return snap, ok
}

// Replace publishes snap as the new state for person. This is the sole
// mutation entry point for fetch cycles; the swap is atomic with respect to
// readers.
func (s *Store[T]) Replace(person model.PersonKey, snap *Snapshot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPerson[person] = snap
}

// MarkFailed records a failed fetch cycle. The previously served records
// stay fully intact; only the success flag is cleared. A person with no
// prior snapshot stays absent.
func (s *Store[T]) MarkFailed(person model.PersonKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.byPerson[person]
	if !ok || !prior.LastSyncOK {
		return
	}
	next := *prior
	next.LastSyncOK = false
	s.byPerson[person] = &next
}

// Ack flips the new-item flag of one record in the served snapshot without
// waiting for the next fetch. Returns false when the identifier is not in
// the current annotated list; that is not an error for the caller.
func (s *Store[T]) Ack(person model.PersonKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.byPerson[person]
	if !ok {
		return false
	}

	idx := -1
	for i := range prior.Annotated {
		if prior.Annotated[i].Record.RecordID() == id {
			idx = i
			break
		}
	}
	if idx < 0 || !prior.Annotated[idx].IsNew {
		return false
	}

	next := *prior
	next.Annotated = make([]model.Annotated[T], len(prior.Annotated))
	copy(next.Annotated, prior.Annotated)
	next.Annotated[idx].IsNew = false
	if prior.Stats != nil {
		if grades, ok := any(next.Annotated).([]model.Annotated[model.Grade]); ok {
			next.Stats = stats.Aggregate(grades)
		}
	}
	s.byPerson[person] = &next
	return true
}

// Persons returns the keys that currently have a snapshot.
func (s *Store[T]) Persons() []model.PersonKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.PersonKey, 0, len(s.byPerson))
	for k := range s.byPerson {
		keys = append(keys, k)
	}
	return keys
}
