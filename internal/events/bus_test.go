package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/events"
	"github.com/skolnik/skolnik/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

// collector gathers delivered events behind a mutex and signals each arrival.
type collector struct {
	mu     sync.Mutex
	events []events.Event
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 128)}
}

func (c *collector) handle(ctx context.Context, ev events.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-deadline:
			return false
		}
	}
	return true
}

func (c *collector) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestBus(t *testing.T) {
	ctx := context.Background()
	person := model.NewPersonKey("school.example.cz", "student-1")

	Convey("Given a bus with typed subscribers", t, func() {
		bus := events.NewBus(ctx)
		grades := newCollector()
		messages := newCollector()
		everything := newCollector()
		bus.Subscribe(events.TypeNewGrade, grades.handle)
		bus.Subscribe(events.TypeNewMessage, messages.handle)
		bus.SubscribeAll(everything.handle)

		Reset(bus.Close)

		Convey("When publishing grade payloads", func() {
			bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, []any{"m1", "m2"})

			Convey("Then each payload becomes one event to matching subscribers", func() {
				So(grades.wait(2, 2*time.Second), ShouldBeTrue)
				So(everything.wait(2, 2*time.Second), ShouldBeTrue)

				got := grades.all()
				So(got, ShouldHaveLength, 2)
				So(got[0].Type, ShouldEqual, events.TypeNewGrade)
				So(got[0].Person, ShouldEqual, person)
				So(got[0].ID, ShouldNotBeEmpty)
				So(got[0].ID, ShouldNotEqual, got[1].ID)
				So(messages.all(), ShouldBeEmpty)
			})
		})

		Convey("When publishing with no payloads", func() {
			bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, nil)

			Convey("Then nothing is delivered", func() {
				time.Sleep(20 * time.Millisecond)
				So(grades.all(), ShouldBeEmpty)
			})
		})

		Convey("When the bus is closed", func() {
			bus.Close()
			bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, []any{"m1"})

			Convey("Then publishing is a no-op and closing again is safe", func() {
				So(grades.all(), ShouldBeEmpty)
				So(bus.Close, ShouldNotPanic)
			})
		})
	})

	Convey("Given a bus with no subscribers", t, func() {
		bus := events.NewBus(ctx)
		Reset(bus.Close)

		Convey("Then publishing is harmless", func() {
			So(func() {
				bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, []any{"m1"})
			}, ShouldNotPanic)
		})
	})

	Convey("Given publishers racing shutdown", t, func() {
		bus := events.NewBus(ctx)
		bus.Subscribe(events.TypeNewGrade, func(ctx context.Context, ev events.Event) {})

		panicked := make(chan any, 1)
		started := make(chan struct{})
		go func() {
			defer func() { panicked <- recover() }()
			close(started)
			payloads := []any{"m1", "m2", "m3", "m4"}
			for i := 0; i < 10000; i++ {
				bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, payloads)
			}
		}()

		Convey("When the bus is closed mid-publish", func() {
			<-started
			bus.Close()

			Convey("Then the publisher completes without panicking", func() {
				So(<-panicked, ShouldBeNil)
			})
		})
	})

	Convey("Given a slow subscriber", t, func() {
		bus := events.NewBus(ctx, events.WithWorkers(1))
		release := make(chan struct{})
		done := newCollector()
		bus.Subscribe(events.TypeNewGrade, func(ctx context.Context, ev events.Event) {
			<-release
			done.handle(ctx, ev)
		})

		Convey("When publishing while it is stuck", func() {
			start := time.Now()
			bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, []any{"m1", "m2", "m3"})
			elapsed := time.Since(start)

			Convey("Then the publisher never blocks and Close drains the queue", func() {
				So(elapsed, ShouldBeLessThan, time.Second)
				close(release)
				bus.Close()
				So(done.all(), ShouldHaveLength, 3)
			})
		})
	})
}
