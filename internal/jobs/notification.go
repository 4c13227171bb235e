package jobs

import "time"

// Notification reasons.
const (
	ReasonFailing  = "failing"
	ReasonDisabled = "disabled"
)

// NotificationArgs asks for an owner notification about a webhook.
type NotificationArgs struct {
	Reason              string    `json:"reason" river:"unique"`
	OrganizationID      string    `json:"organization_id"`
	WebhookID           string    `json:"webhook_id" river:"unique"`
	WebhookName         string    `json:"webhook_name"`
	URL                 string    `json:"url"`
	ConsecutiveFailures uint      `json:"consecutive_failures" river:"unique"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Kind returns the job type name
func (NotificationArgs) Kind() string { return "webhook_notification" }
