// Package app provides the core sync service that implements the
// dependencies required by the HTTP API and the scheduler.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skolnik/skolnik/internal/config"
	"github.com/skolnik/skolnik/internal/domain/diff"
	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/domain/stats"
	"github.com/skolnik/skolnik/internal/events"
	"github.com/skolnik/skolnik/internal/notify"
	"github.com/skolnik/skolnik/internal/scheduler"
	"github.com/skolnik/skolnik/internal/session"
	"github.com/skolnik/skolnik/internal/store"
	"github.com/skolnik/skolnik/internal/upstream"
	"github.com/skolnik/skolnik/pkg/logger"
	"github.com/skolnik/skolnik/pkg/metrics"
)

// timetableWeekOffsets is the actual-timetable observation window: previous,
// current and next week.
var timetableWeekOffsets = []int{-1, 0, 1}

// Service owns the sync core: session state, per-domain caches, the diff
// tracker, the scheduler and the notification bus.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	// Core components
	upstreamAPI upstream.API
	sessions    *session.Manager
	client      *upstream.Adapter
	tracker     *diff.Tracker
	grades      *store.Store[model.Grade]
	messages    *store.Store[model.Message]
	timetable   *store.Store[model.TimetableSlot]
	bus         *events.Bus
	sched       *scheduler.Scheduler

	persons []model.PersonKey

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUpstreamAPI replaces the Bakalari HTTP client, used by tests.
func WithUpstreamAPI(a upstream.API) Option {
	return func(s *Service) {
		if a != nil {
			s.upstreamAPI = a
		}
	}
}

// New constructs a Service from configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components: one polling loop per
// (person, domain) pair plus the notification bus.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting sync service...")

	if s.upstreamAPI == nil {
		s.upstreamAPI = upstream.NewBakalariClient(upstream.WithClientLogger(s.logger.Named("bakalari")))
	}
	auth, ok := s.upstreamAPI.(session.Authenticator)
	if !ok {
		return fmt.Errorf("upstream API %T does not authenticate", s.upstreamAPI)
	}

	s.sessions = session.NewManager(auth, session.WithLogger(s.logger.Named("session")))
	s.client = upstream.NewAdapter(s.upstreamAPI, s.sessions)
	s.tracker = diff.NewTracker()
	s.grades = store.New[model.Grade]()
	s.messages = store.New[model.Message]()
	s.timetable = store.New[model.TimetableSlot]()
	s.bus = events.NewBus(ctx,
		events.WithWorkers(s.cfg.EventWorkers),
		events.WithLogger(s.logger.Named("events")),
	)

	if s.cfg.SlackWebhookURL != "" {
		notifier := notify.NewSlackNotifier(s.cfg.SlackWebhookURL, notify.WithLogger(s.logger.Named("slack")))
		notifier.Register(s.bus)
		s.logger.Info(ctx, "slack notifications enabled")
	}

	s.sched = scheduler.New(s,
		scheduler.WithLogger(s.logger.Named("scheduler")),
		scheduler.WithInterval(model.DomainGrades, s.cfg.GradesInterval()),
		scheduler.WithInterval(model.DomainMessages, s.cfg.MessagesInterval()),
		scheduler.WithInterval(model.DomainTimetable, s.cfg.TimetableInterval()),
		scheduler.WithFailureBackoff(s.cfg.FailureBackoff()),
		scheduler.WithAuthBackoff(s.cfg.AuthBackoff()),
	)

	for _, p := range s.cfg.Persons {
		person := model.NewPersonKey(p.Server, p.UserID)
		s.persons = append(s.persons, person)
		s.client.Register(person, session.Credentials{
			Server:   p.Server,
			UserID:   p.UserID,
			Username: p.Username,
			Password: p.Password,
		})
		s.sched.Track(person)
	}
	metrics.UpdateTrackedPersons(len(s.persons))

	s.sched.Start(ctx)
	s.started = true
	s.logger.Info(ctx, "sync service started",
		logger.Int("persons", len(s.persons)),
		logger.Duration("grades_interval", s.cfg.GradesInterval()),
		logger.Duration("messages_interval", s.cfg.MessagesInterval()),
		logger.Duration("timetable_interval", s.cfg.TimetableInterval()),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping sync service...")
	s.sched.Stop()
	s.bus.Close()
	s.started = false
	s.logger.Info(context.Background(), "sync service stopped")
}

// ApplyConfig picks up runtime-overridable settings, currently the
// per-domain polling intervals. Called by the config file watcher.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return
	}
	sched.SetInterval(model.DomainGrades, cfg.GradesInterval())
	sched.SetInterval(model.DomainMessages, cfg.MessagesInterval())
	sched.SetInterval(model.DomainTimetable, cfg.TimetableInterval())
}

// RunCycle executes one fetch cycle for a (person, domain) pair. Failures
// are recorded on the snapshot and returned to the scheduler for backoff;
// they never propagate further.
func (s *Service) RunCycle(ctx context.Context, person model.PersonKey, domain model.Domain) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout())
	defer cancel()

	switch domain {
	case model.DomainGrades:
		return s.syncGrades(ctx, person)
	case model.DomainMessages:
		return s.syncMessages(ctx, person)
	case model.DomainTimetable:
		return s.syncTimetable(ctx, person)
	default:
		return fmt.Errorf("unknown domain %q", domain)
	}
}

func (s *Service) syncGrades(ctx context.Context, person model.PersonKey) error {
	raw, err := s.client.FetchGrades(ctx, person)
	if err != nil {
		s.grades.MarkFailed(person)
		return err
	}

	// Most recent first; stable so upstream order breaks date ties.
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Date.After(raw[j].Date) })

	annotated, newIDs := diff.Annotate(s.tracker, person, model.DomainGrades, raw)
	snap := &store.Snapshot[model.Grade]{
		Raw:        raw,
		Annotated:  annotated,
		Stats:      stats.Aggregate(annotated),
		LastSyncOK: true,
		FetchedAt:  time.Now(),
	}
	s.grades.Replace(person, snap)
	metrics.RecordNewRecords(string(model.DomainGrades), len(newIDs))

	if len(newIDs) > 0 {
		s.bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, newPayloads(annotated))
		s.logger.Info(ctx, "new grades discovered",
			logger.String("person", string(person)),
			logger.Int("count", len(newIDs)),
		)
	}
	return nil
}

func (s *Service) syncMessages(ctx context.Context, person model.PersonKey) error {
	from := schoolYearStart(time.Now())
	raw, err := s.client.FetchMessages(ctx, person, from, time.Now())
	if err != nil {
		s.messages.MarkFailed(person)
		return err
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].SentAt.After(raw[j].SentAt) })

	annotated, newIDs := diff.Annotate(s.tracker, person, model.DomainMessages, raw)
	snap := &store.Snapshot[model.Message]{
		Raw:        raw,
		Annotated:  annotated,
		LastSyncOK: true,
		FetchedAt:  time.Now(),
	}
	s.messages.Replace(person, snap)
	metrics.RecordNewRecords(string(model.DomainMessages), len(newIDs))

	if len(newIDs) > 0 {
		s.bus.Publish(ctx, events.TypeNewMessage, person, model.DomainMessages, newPayloads(annotated))
		s.logger.Info(ctx, "new messages discovered",
			logger.String("person", string(person)),
			logger.Int("count", len(newIDs)),
		)
	}
	return nil
}

func (s *Service) syncTimetable(ctx context.Context, person model.PersonKey) error {
	var raw []model.TimetableSlot
	now := time.Now()
	for _, off := range timetableWeekOffsets {
		slots, err := s.client.FetchTimetable(ctx, person, now.AddDate(0, 0, 7*off))
		if err != nil {
			s.timetable.MarkFailed(person)
			return err
		}
		raw = append(raw, slots...)
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if !raw[i].Day.Equal(raw[j].Day) {
			return raw[i].Day.Before(raw[j].Day)
		}
		return raw[i].Hour < raw[j].Hour
	})

	// Timetable slots participate in diffing for uniformity but emit no
	// change notifications; only grades and messages do.
	annotated, _ := diff.Annotate(s.tracker, person, model.DomainTimetable, raw)
	snap := &store.Snapshot[model.TimetableSlot]{
		Raw:        raw,
		Annotated:  annotated,
		LastSyncOK: true,
		FetchedAt:  time.Now(),
	}
	s.timetable.Replace(person, snap)
	return nil
}

// newPayloads extracts the records flagged new in this cycle.
func newPayloads[T model.Record](annotated []model.Annotated[T]) []any {
	var out []any
	for _, a := range annotated {
		if a.IsNew {
			out = append(out, a.Record)
		}
	}
	return out
}

// schoolYearStart returns September 1st of the school year containing t.
func schoolYearStart(t time.Time) time.Time {
	year := t.Year()
	if t.Month() < time.September {
		year--
	}
	return time.Date(year, time.September, 1, 0, 0, 0, 0, t.Location())
}
