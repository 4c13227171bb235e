package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Message is a rendered owner notification.
type Message struct {
	OrganizationID string
	Subject        string
	Body           string
}

// Mailer delivers a message to the owners of an organization.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Render turns a notification into a message.
func Render(n Notification) Message {
	name := n.WebhookName
	if name == "" {
		name = n.WebhookID
	}
	var subject, body string
	switch n.Reason {
	case ReasonDisabled:
		subject = fmt.Sprintf("Webhook %q has been disabled", name)
		body = fmt.Sprintf(
			"Deliveries to %s failed %d times in a row, so the webhook %q was disabled at %s.\n"+
				"Fix the endpoint and re-enable the webhook to resume deliveries.",
			n.URL, n.ConsecutiveFailures, name, n.OccurredAt.UTC().Format("2006-01-02 15:04 MST"))
	default:
		subject = fmt.Sprintf("Webhook %q is failing", name)
		body = fmt.Sprintf(
			"Deliveries to %s have failed %d times in a row.\n"+
				"The webhook will be disabled automatically if failures continue.",
			n.URL, n.ConsecutiveFailures)
	}
	return Message{OrganizationID: n.OrganizationID, Subject: subject, Body: body}
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("Owner notification",
		zap.String("organization_id", msg.OrganizationID),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
