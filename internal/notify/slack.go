// Package notify forwards change notifications to external sinks.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/events"
	"github.com/skolnik/skolnik/pkg/logger"
)

// SlackNotifier posts one webhook message per new-record event.
type SlackNotifier struct {
	webhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
	logger     logger.Logger
}

// SlackOption applies a configuration option to the SlackNotifier.
type SlackOption func(*SlackNotifier)

// WithPoster replaces the webhook call, used by tests.
func WithPoster(post func(ctx context.Context, url string, msg *slack.WebhookMessage) error) SlackOption {
	return func(n *SlackNotifier) {
		if post != nil {
			n.post = post
		}
	}
}

// WithLogger sets a custom logger for the notifier.
func WithLogger(l logger.Logger) SlackOption {
	return func(n *SlackNotifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewSlackNotifier creates a notifier posting to webhookURL.
func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	n := &SlackNotifier{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Get()
	}
	return n
}

// Register subscribes the notifier to new-grade and new-message events.
func (n *SlackNotifier) Register(bus *events.Bus) {
	bus.Subscribe(events.TypeNewGrade, n.Handle)
	bus.Subscribe(events.TypeNewMessage, n.Handle)
}

// Handle posts one message for one event. Delivery failures are logged and
// dropped; notifications are best effort by contract.
func (n *SlackNotifier) Handle(ctx context.Context, ev events.Event) {
	msg := &slack.WebhookMessage{Text: render(ev)}
	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		n.logger.Warn(ctx, "slack webhook delivery failed",
			logger.String("type", string(ev.Type)),
			logger.Err(err),
		)
	}
}

func render(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case model.Grade:
		text := p.MarkText
		if p.IsPoints {
			text = fmt.Sprintf("%g/%d points", p.Value, p.MaxPoints)
		}
		return fmt.Sprintf("New grade for %s: %s - %s (%s)", ev.Person, p.SubjectName, text, p.Caption)
	case model.Message:
		return fmt.Sprintf("New message for %s: %s - from %s", ev.Person, p.Title, p.Sender)
	default:
		return fmt.Sprintf("New %s record for %s", ev.Domain, ev.Person)
	}
}
