// Package diff tracks which record identifiers have already been observed
// and annotates fetched record sets with new-item flags.
package diff

import (
	"sync"

	"github.com/skolnik/skolnik/internal/domain/model"
)

// Tracker records seen record IDs per (person, domain). The seen-set grows
// monotonically: a fetch never removes IDs, and acknowledgement handlers may
// add IDs out of band, including IDs that have not been fetched yet.
//
// The tracker is process-scoped. After a restart every currently-existing
// record is reported as new exactly once; that is intended behavior, not a
// defect, since persistence is out of scope.
type Tracker struct {
	mu   sync.Mutex
	seen map[setKey]map[string]struct{}
}

type setKey struct {
	person model.PersonKey
	domain model.Domain
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[setKey]map[string]struct{})}
}

// Annotate flags each record whose ID is absent from the prior seen-set as
// new, then merges all fetched IDs into the seen-set (monotonic union).
// It returns the annotated records and the IDs that were newly observed.
//
// Annotation is a pure function of (records, prior seen-set): calling it
// again with the same records after the merge reports nothing as new, and a
// flag never flips back to new without a genuinely new identifier.
func Annotate[T model.Record](t *Tracker, person model.PersonKey, domain model.Domain, records []T) ([]model.Annotated[T], []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.setLocked(person, domain)

	annotated := make([]model.Annotated[T], 0, len(records))
	var newIDs []string
	for _, r := range records {
		id := r.RecordID()
		_, known := set[id]
		annotated = append(annotated, model.Annotated[T]{Record: r, IsNew: !known})
		if !known {
			set[id] = struct{}{}
			newIDs = append(newIDs, id)
		}
	}
	return annotated, newIDs
}

// Flags computes new-item flags for ids against the current seen-set without
// mutating it. Used to re-annotate a cached snapshot after an out-of-band
// acknowledgement.
func (t *Tracker) Flags(person model.PersonKey, domain model.Domain, ids []string) []bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.seen[setKey{person, domain}]
	flags := make([]bool, len(ids))
	for i, id := range ids {
		_, known := set[id]
		flags[i] = !known
	}
	return flags
}

// MarkSeen adds a single identifier to the seen-set. Marking an identifier
// that has not been fetched yet is permitted and suppresses its new flag on
// the next fetch. Marking an already-seen identifier is a no-op.
func (t *Tracker) MarkSeen(person model.PersonKey, domain model.Domain, id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(person, domain)[id] = struct{}{}
}

// Seen reports whether the identifier is in the seen-set.
func (t *Tracker) Seen(person model.PersonKey, domain model.Domain, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[setKey{person, domain}][id]
	return ok
}

// Size returns the number of identifiers tracked for a (person, domain).
func (t *Tracker) Size(person model.PersonKey, domain model.Domain) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen[setKey{person, domain}])
}

func (t *Tracker) setLocked(person model.PersonKey, domain model.Domain) map[string]struct{} {
	k := setKey{person, domain}
	set, ok := t.seen[k]
	if !ok {
		set = make(map[string]struct{})
		t.seen[k] = set
	}
	return set
}
