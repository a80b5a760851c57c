// Package events is the in-process publish/subscribe channel between the
// sync core and notification consumers. It keeps annotation logic free of
// presentation concerns; delivery is at-most-once, best effort.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/pkg/logger"
	"github.com/skolnik/skolnik/pkg/metrics"
)

// Type names an event kind.
type Type string

// Emitted event types: one event per newly discovered record.
const (
	TypeNewGrade   Type = "grade.new"
	TypeNewMessage Type = "message.new"
)

// Event carries one newly discovered record with its identifying keys.
type Event struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Person  model.PersonKey `json:"person"`
	Domain  model.Domain    `json:"domain"`
	Payload any             `json:"payload"`
	At      time.Time       `json:"at"`
}

// Handler consumes one event. Handlers must be safe for concurrent use.
type Handler func(ctx context.Context, ev Event)

// Bus fans events out to subscribers through a bounded pool of dispatch
// goroutines so a slow consumer cannot stall a fetch cycle.
type Bus struct {
	logger  logger.Logger
	workers int

	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
	closed   bool

	queue chan dispatch
	wg    sync.WaitGroup
}

type dispatch struct {
	handler Handler
	event   Event
}

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithWorkers sets the number of dispatch goroutines.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets a custom logger for the bus.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a Bus and starts its dispatch pool.
func NewBus(ctx context.Context, opts ...Option) *Bus {
	b := &Bus{
		workers:  4,
		handlers: make(map[Type][]Handler),
		queue:    make(chan dispatch, 1024),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get()
	}
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return b
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish emits one event per record in payloads. Called once per completed
// diff with a non-empty new set; callers skip it entirely for cycles that
// found nothing new or failed.
func (b *Bus) Publish(ctx context.Context, t Type, person model.PersonKey, domain model.Domain, payloads []any) {
	// The read lock is held across the sends: Close flips closed and closes
	// the queue under the write lock, so an in-flight Publish finishes its
	// dispatches before the channel can close under it.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || len(payloads) == 0 {
		return
	}
	targets := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	targets = append(targets, b.handlers[t]...)
	targets = append(targets, b.all...)
	if len(targets) == 0 {
		return
	}

	for _, p := range payloads {
		ev := Event{
			ID:      uuid.NewString(),
			Type:    t,
			Person:  person,
			Domain:  domain,
			Payload: p,
			At:      time.Now(),
		}
		metrics.RecordEventPublished(string(t))
		for _, h := range targets {
			select {
			case b.queue <- dispatch{handler: h, event: ev}:
			default:
				// Queue full: drop rather than block the fetch cycle.
				// At-most-once delivery is the documented contract.
				metrics.RecordEventDropped(string(t))
				b.logger.Warn(ctx, "event queue full, dropping notification",
					logger.String("type", string(t)),
					logger.String("person", string(person)),
				)
			}
		}
	}
}

// Close stops accepting events and waits for queued dispatches to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	b.wg.Wait()
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for d := range b.queue {
		d.handler(ctx, d.event)
	}
}
