// Package notify raises owner notifications about failing webhooks.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/jobs"
)

// Reason says why owners are being notified.
type Reason string

const (
	// ReasonFailing is raised when the failure count hits a notify threshold.
	ReasonFailing Reason = jobs.ReasonFailing
	// ReasonDisabled is raised once when a webhook is auto-disabled.
	ReasonDisabled Reason = jobs.ReasonDisabled
)

// Notification describes one threshold crossing.
type Notification struct {
	Reason              Reason
	OrganizationID      string
	WebhookID           string
	WebhookName         string
	URL                 string
	ConsecutiveFailures uint
	OccurredAt          time.Time
}

// Notifier accepts notifications for asynchronous delivery to owners.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// QueueNotifier hands notifications to the durable queue so that a slow
// mail provider never blocks a delivery worker.
type QueueNotifier struct {
	enqueuer jobs.Enqueuer
	log      *zap.Logger
}

// NewQueueNotifier returns a Notifier backed by enqueuer.
func NewQueueNotifier(enqueuer jobs.Enqueuer, log *zap.Logger) *QueueNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueNotifier{enqueuer: enqueuer, log: log}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	jobID, err := q.enqueuer.Enqueue(ctx, jobs.Spec{
		Args: jobs.NotificationArgs{
			Reason:              string(n.Reason),
			OrganizationID:      n.OrganizationID,
			WebhookID:           n.WebhookID,
			WebhookName:         n.WebhookName,
			URL:                 n.URL,
			ConsecutiveFailures: n.ConsecutiveFailures,
			OccurredAt:          n.OccurredAt,
		},
		Queue:  jobs.QueueNotifications,
		Unique: true,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s notification: %w", n.Reason, err)
	}
	q.log.Info("Queued webhook notification",
		zap.String("job_id", jobID),
		zap.String("reason", string(n.Reason)),
		zap.String("webhook_id", n.WebhookID),
		zap.Uint("consecutive_failures", n.ConsecutiveFailures),
	)
	return nil
}

// FromArgs rebuilds a notification from its job payload.
func FromArgs(a jobs.NotificationArgs) Notification {
	return Notification{
		Reason:              Reason(a.Reason),
		OrganizationID:      a.OrganizationID,
		WebhookID:           a.WebhookID,
		WebhookName:         a.WebhookName,
		URL:                 a.URL,
		ConsecutiveFailures: a.ConsecutiveFailures,
		OccurredAt:          a.OccurredAt,
	}
}
