package workers

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/jobs"
	"github.com/sarathsp06/herald/internal/notify"
)

// NotificationWorker renders owner notifications and hands them to a Mailer.
type NotificationWorker struct {
	river.WorkerDefaults[jobs.NotificationArgs]
	mailer notify.Mailer
	log    *zap.Logger
}

func NewNotificationWorker(mailer notify.Mailer, log *zap.Logger) *NotificationWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationWorker{mailer: mailer, log: log}
}

func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[jobs.NotificationArgs]) error {
	msg := notify.Render(notify.FromArgs(job.Args))
	if err := w.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s notification for webhook %s: %w", job.Args.Reason, job.Args.WebhookID, err)
	}
	w.log.Info("Notified webhook owners",
		zap.Int64("job_id", job.ID),
		zap.String("reason", job.Args.Reason),
		zap.String("organization_id", job.Args.OrganizationID),
		zap.String("webhook_id", job.Args.WebhookID),
	)
	return nil
}
