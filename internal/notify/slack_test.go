package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/events"
	"github.com/skolnik/skolnik/internal/notify"
	"github.com/skolnik/skolnik/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

type capture struct {
	mu   sync.Mutex
	urls []string
	msgs []*slack.WebhookMessage
	err  error
}

func (c *capture) post(ctx context.Context, url string, msg *slack.WebhookMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, url)
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *capture) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Text
	}
	return out
}

func TestSlackNotifier(t *testing.T) {
	ctx := context.Background()
	person := model.NewPersonKey("school.example.cz", "student-1")

	event := func(t events.Type, payload any) events.Event {
		return events.Event{ID: "ev-1", Type: t, Person: person, Payload: payload, At: time.Now()}
	}

	Convey("Given a notifier with a captured webhook", t, func() {
		c := &capture{}
		n := notify.NewSlackNotifier("https://hooks.example.com/T/B/x", notify.WithPoster(c.post))

		Convey("When handling a points grade event", func() {
			n.Handle(ctx, event(events.TypeNewGrade, model.Grade{
				SubjectName: "Mathematics",
				Caption:     "Algebra test",
				Value:       8,
				MaxPoints:   10,
				IsPoints:    true,
			}))

			Convey("Then the message names subject, score and caption", func() {
				So(c.texts(), ShouldHaveLength, 1)
				So(c.texts()[0], ShouldContainSubstring, "Mathematics")
				So(c.texts()[0], ShouldContainSubstring, "8/10 points")
				So(c.texts()[0], ShouldContainSubstring, "Algebra test")
				So(c.urls[0], ShouldEqual, "https://hooks.example.com/T/B/x")
			})
		})

		Convey("When handling a textual grade event", func() {
			n.Handle(ctx, event(events.TypeNewGrade, model.Grade{
				SubjectName: "Mathematics",
				MarkText:    "1-",
			}))

			Convey("Then the mark text is used verbatim", func() {
				So(c.texts()[0], ShouldContainSubstring, "1-")
			})
		})

		Convey("When handling a message event", func() {
			n.Handle(ctx, event(events.TypeNewMessage, model.Message{
				Title:  "Parent meeting",
				Sender: "Class teacher",
			}))

			Convey("Then the message names title and sender", func() {
				So(c.texts()[0], ShouldContainSubstring, "Parent meeting")
				So(c.texts()[0], ShouldContainSubstring, "Class teacher")
			})
		})

		Convey("When the webhook fails", func() {
			c.err = errors.New("rate limited")

			Convey("Then the failure is swallowed", func() {
				So(func() {
					n.Handle(ctx, event(events.TypeNewGrade, model.Grade{SubjectName: "Mathematics"}))
				}, ShouldNotPanic)
			})
		})
	})

	Convey("Given a notifier registered on a bus", t, func() {
		c := &capture{}
		n := notify.NewSlackNotifier("https://hooks.example.com/T/B/x", notify.WithPoster(c.post))
		bus := events.NewBus(ctx, events.WithWorkers(1))
		n.Register(bus)

		Convey("When new-record events are published", func() {
			bus.Publish(ctx, events.TypeNewGrade, person, model.DomainGrades, []any{model.Grade{SubjectName: "Mathematics"}})
			bus.Publish(ctx, events.TypeNewMessage, person, model.DomainMessages, []any{model.Message{Title: "Trip"}})
			bus.Close()

			Convey("Then one webhook call happens per event", func() {
				So(c.texts(), ShouldHaveLength, 2)
			})
		})
	})
}
