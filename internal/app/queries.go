package app

import (
	"context"
	"fmt"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/store"
	"github.com/skolnik/skolnik/internal/upstream"
	"github.com/skolnik/skolnik/pkg/logger"
	"github.com/skolnik/skolnik/pkg/metrics"
)

// QueryGrades returns the cached grade snapshot, most recent first, limited
// to limit records.
func (s *Service) QueryGrades(ctx context.Context, person string, limit int) (*store.Snapshot[model.Grade], error) {
	p, err := s.resolvePerson(person)
	if err != nil {
		return nil, err
	}
	snap, ok := s.grades.Get(p)
	if !ok {
		return nil, nil
	}
	return truncate(snap, limit), nil
}

// QueryMessages returns the cached message snapshot, most recent first,
// limited to limit records.
func (s *Service) QueryMessages(ctx context.Context, person string, limit int) (*store.Snapshot[model.Message], error) {
	p, err := s.resolvePerson(person)
	if err != nil {
		return nil, err
	}
	snap, ok := s.messages.Get(p)
	if !ok {
		return nil, nil
	}
	return truncate(snap, limit), nil
}

// QueryTimetable returns the cached timetable snapshot in chronological
// order. The limit counts week windows rather than individual slots.
func (s *Service) QueryTimetable(ctx context.Context, person string, limit int) (*store.Snapshot[model.TimetableSlot], error) {
	p, err := s.resolvePerson(person)
	if err != nil {
		return nil, err
	}
	snap, ok := s.timetable.Get(p)
	if !ok {
		return nil, nil
	}
	return truncateWeeks(snap, limit), nil
}

// MarkSeen acknowledges one record: the identifier joins the seen set even
// if it has never been fetched, and the cached annotation flips in place.
func (s *Service) MarkSeen(ctx context.Context, domain model.Domain, id, person string) error {
	p, err := s.resolvePerson(person)
	if err != nil {
		return err
	}

	// Resolve the target store before touching the seen set, so a rejected
	// domain leaves no trace behind.
	var ack func(model.PersonKey, string) bool
	switch domain {
	case model.DomainGrades:
		ack = s.grades.Ack
	case model.DomainMessages:
		ack = s.messages.Ack
	case model.DomainTimetable:
		ack = s.timetable.Ack
	default:
		return fmt.Errorf("unknown domain %q", domain)
	}
	s.tracker.MarkSeen(p, domain, id)
	ack(p, id)

	metrics.RecordAcknowledgment()
	s.logger.Debug(ctx, "record acknowledged",
		logger.String("person", string(p)),
		logger.String("domain", string(domain)),
		logger.String("id", id),
	)
	return nil
}

// Refresh triggers immediate fetch cycles. An empty domain triggers every
// domain of the person.
func (s *Service) Refresh(ctx context.Context, domain, person string) error {
	p, err := s.resolvePerson(person)
	if err != nil {
		return err
	}

	domains := model.Domains()
	if domain != "" {
		d, ok := model.ParseDomain(domain)
		if !ok {
			return fmt.Errorf("unknown domain %q", domain)
		}
		domains = []model.Domain{d}
	}
	for _, d := range domains {
		if err := s.sched.Trigger(p, d); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports loop states and cache freshness for every tracked person.
func (s *Service) Stats() map[string]any {
	persons := make(map[string]any, len(s.persons))
	for _, p := range s.persons {
		persons[string(p)] = map[string]any{
			string(model.DomainGrades):    snapshotStats(s.grades, s.tracker.Size(p, model.DomainGrades), p),
			string(model.DomainMessages):  snapshotStats(s.messages, s.tracker.Size(p, model.DomainMessages), p),
			string(model.DomainTimetable): snapshotStats(s.timetable, s.tracker.Size(p, model.DomainTimetable), p),
		}
	}
	return map[string]any{
		"persons": persons,
		"loops":   s.sched.Stats(),
	}
}

// resolvePerson maps an optional person query parameter to a tracked key.
// Empty selects the first configured person; an unknown key is an error.
func (s *Service) resolvePerson(person string) (model.PersonKey, error) {
	if len(s.persons) == 0 {
		return "", upstream.ErrNotFound
	}
	if person == "" {
		return s.persons[0], nil
	}
	p := model.PersonKey(person)
	for _, known := range s.persons {
		if known == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("person %q: %w", person, upstream.ErrNotFound)
}

// truncate copies the snapshot with at most limit annotated records. The
// stored snapshot is never mutated; readers may hold it concurrently.
func truncate[T model.Record](snap *store.Snapshot[T], limit int) *store.Snapshot[T] {
	if limit <= 0 || len(snap.Annotated) <= limit {
		return snap
	}
	out := *snap
	out.Annotated = snap.Annotated[:limit]
	return &out
}

// truncateWeeks keeps slots from the first limit distinct weeks, in
// chronological order.
func truncateWeeks(snap *store.Snapshot[model.TimetableSlot], limit int) *store.Snapshot[model.TimetableSlot] {
	if limit <= 0 {
		return snap
	}
	weeks := make(map[time.Time]struct{})
	cut := len(snap.Annotated)
	for i, a := range snap.Annotated {
		wk := a.Record.WeekStart
		if _, ok := weeks[wk]; !ok {
			if len(weeks) == limit {
				cut = i
				break
			}
			weeks[wk] = struct{}{}
		}
	}
	if cut == len(snap.Annotated) {
		return snap
	}
	out := *snap
	out.Annotated = snap.Annotated[:cut]
	return &out
}

func snapshotStats[T model.Record](st *store.Store[T], seen int, p model.PersonKey) map[string]any {
	entry := map[string]any{"seen": seen}
	if snap, ok := st.Get(p); ok {
		newCount := 0
		for _, a := range snap.Annotated {
			if a.IsNew {
				newCount++
			}
		}
		entry["records"] = len(snap.Annotated)
		entry["new"] = newCount
		entry["last_sync_ok"] = snap.LastSyncOK
		entry["fetched_at"] = snap.FetchedAt
	}
	return entry
}
