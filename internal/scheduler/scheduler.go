// Package scheduler drives one independently-timed polling loop per
// (person, domain) pair with jittered intervals, failure backoff and an
// out-of-band manual trigger path.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/upstream"
	"github.com/skolnik/skolnik/pkg/logger"
	"github.com/skolnik/skolnik/pkg/metrics"
)

// Loop states exposed through Stats.
const (
	StateIdle     = "idle"
	StateFetching = "fetching"
	StateBackoff  = "backoff"
)

// Default timing constants. Base intervals come from configuration; these
// cover the failure paths.
const (
	defaultFailureBackoff = 5 * time.Minute
	defaultAuthBackoff    = 6 * time.Hour
	jitterFraction        = 0.1 // +-10% on every scheduled firing
)

// Runner executes one full fetch cycle for a (person, domain) pair. The
// returned error selects the next interval: nil for the base interval,
// ErrAuthFailed for the long auth backoff, anything else for the failure
// backoff. Errors never propagate further.
type Runner interface {
	RunCycle(ctx context.Context, person model.PersonKey, domain model.Domain) error
}

// Scheduler owns every polling loop. Cycles within one pair are strictly
// serialized by construction (one goroutine per pair); pairs never share
// timing state, so they overlap freely.
type Scheduler struct {
	runner Runner
	logger logger.Logger

	failureBackoff time.Duration
	authBackoff    time.Duration

	mu        sync.Mutex
	intervals map[model.Domain]time.Duration
	loops     map[loopKey]*loop
	started   bool
	ctx       context.Context // set by Start; every loop runs under it

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type loopKey struct {
	person model.PersonKey
	domain model.Domain
}

type loop struct {
	key      loopKey
	trigger  chan struct{}
	stateMu  sync.Mutex
	state    string
	lastRun  time.Time
	lastErr  error
	interval func() time.Duration
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInterval sets the base polling interval for one domain.
func WithInterval(domain model.Domain, d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.intervals[domain] = d
		}
	}
}

// WithFailureBackoff sets the interval used after a transient failure.
func WithFailureBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.failureBackoff = d
		}
	}
}

// WithAuthBackoff sets the long interval used after rejected credentials,
// so a locked-out account is not hammered.
func WithAuthBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.authBackoff = d
		}
	}
}

// New creates a Scheduler; loops are added with Track and run after Start.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:         runner,
		failureBackoff: defaultFailureBackoff,
		authBackoff:    defaultAuthBackoff,
		intervals: map[model.Domain]time.Duration{
			model.DomainGrades:    15 * time.Minute,
			model.DomainMessages:  time.Hour,
			model.DomainTimetable: 6 * time.Hour,
		},
		loops: make(map[loopKey]*loop),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	return s
}

// Track registers polling loops for every domain of person. Loops added
// after Start begin running immediately, under the context Start derived,
// so Stop reaches them too.
func (s *Scheduler) Track(person model.PersonKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, domain := range model.Domains() {
		k := loopKey{person, domain}
		if _, ok := s.loops[k]; ok {
			continue
		}
		d := domain
		l := &loop{
			key:     k,
			trigger: make(chan struct{}, 1),
			state:   StateIdle,
			interval: func() time.Duration {
				s.mu.Lock()
				defer s.mu.Unlock()
				return s.intervals[d]
			},
		}
		s.loops[k] = l
		if s.started {
			s.startLoopLocked(l)
		}
	}
}

// Start launches every registered loop. The first cycle of each loop fires
// immediately so consumers are not empty for a full interval after boot.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, l := range s.loops {
		s.startLoopLocked(l)
	}
	s.logger.Info(s.ctx, "scheduler started", logger.Int("loops", len(s.loops)))
}

// Stop cancels all loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) startLoopLocked(l *loop) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, l)
	}()
}

// Trigger requests an immediate out-of-cycle fetch. If a cycle for the pair
// is in flight the trigger is coalesced to run right after it completes;
// the next periodic firing is rescheduled from that run. Returns
// upstream.ErrNotFound for an untracked pair.
func (s *Scheduler) Trigger(person model.PersonKey, domain model.Domain) error {
	s.mu.Lock()
	l, ok := s.loops[loopKey{person, domain}]
	s.mu.Unlock()
	if !ok {
		return upstream.ErrNotFound
	}
	select {
	case l.trigger <- struct{}{}:
	default:
		// A trigger is already pending; one immediate run satisfies both.
	}
	return nil
}

// SetInterval overrides the base interval of a domain. Existing loops pick
// the new value up at their next scheduling decision.
func (s *Scheduler) SetInterval(domain model.Domain, d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals[domain] = d
}

// Stats reports the state of every loop for the /stats endpoint.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.loops))
	for k, l := range s.loops {
		l.stateMu.Lock()
		entry := map[string]any{
			"state":    l.state,
			"last_run": l.lastRun,
		}
		if l.lastErr != nil {
			entry["last_error"] = l.lastErr.Error()
		}
		l.stateMu.Unlock()
		out[string(k.person)+"/"+string(k.domain)] = entry
	}
	return out
}

// run is the loop body: fire immediately, then wait for the jittered timer
// or a manual trigger. One goroutine per pair keeps cycles serialized.
func (s *Scheduler) run(ctx context.Context, l *loop) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := s.cycle(ctx, l)
		timer.Reset(next)
	}
}

// cycle runs one fetch and returns the delay until the next firing.
func (s *Scheduler) cycle(ctx context.Context, l *loop) time.Duration {
	l.setState(StateFetching, nil)
	start := time.Now()
	err := s.runner.RunCycle(ctx, l.key.person, l.key.domain)
	metrics.ObserveFetchDuration(string(l.key.domain), time.Since(start))

	switch {
	case err == nil:
		l.setState(StateIdle, nil)
		metrics.RecordFetchCycle(string(l.key.domain), true)
		return Jitter(l.interval())
	case errors.Is(err, upstream.ErrAuthFailed):
		l.setState(StateBackoff, err)
		metrics.RecordFetchCycle(string(l.key.domain), false)
		s.logger.Error(ctx, "credentials rejected, backing off",
			logger.String("person", string(l.key.person)),
			logger.String("domain", string(l.key.domain)),
			logger.Err(err),
		)
		return Jitter(s.authBackoff)
	default:
		l.setState(StateBackoff, err)
		metrics.RecordFetchCycle(string(l.key.domain), false)
		s.logger.Warn(ctx, "fetch cycle failed",
			logger.String("person", string(l.key.person)),
			logger.String("domain", string(l.key.domain)),
			logger.Err(err),
		)
		return Jitter(s.failureBackoff)
	}
}

func (l *loop) setState(state string, err error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.state = state
	l.lastErr = err
	if state == StateFetching {
		l.lastRun = time.Now()
	}
}

// Jitter perturbs d by up to +-10% so independent installations do not fire
// synchronized request bursts.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	f := 1 - jitterFraction + 2*jitterFraction*rand.Float64()
	return time.Duration(float64(d) * f)
}
