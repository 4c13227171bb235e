// Package dispatch turns matched webhooks into durable delivery jobs.
package dispatch

import (
	"context"
	"fmt"

	"github.com/sarathsp06/herald/internal/jobs"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// Delivery is one envelope bound for one webhook.
type Delivery struct {
	WebhookID      string
	OrganizationID string
	EventID        string
	Trigger        webhooks.Trigger
	URL            string
	Secret         string
	// Payload is the serialized envelope. It is signed and sent verbatim.
	Payload []byte
	Test    bool
}

// Dispatcher enqueues exactly one delivery job per Send.
type Dispatcher struct {
	enqueuer    jobs.Enqueuer
	maxAttempts int
}

// New returns a dispatcher. maxAttempts of zero leaves retries to the
// queue default.
func New(enqueuer jobs.Enqueuer, maxAttempts int) *Dispatcher {
	return &Dispatcher{enqueuer: enqueuer, maxAttempts: maxAttempts}
}

// Send enqueues d and returns the job id. Re-sending the same event to the
// same webhook while the first job is pending does not create a duplicate.
func (d *Dispatcher) Send(ctx context.Context, del Delivery) (string, error) {
	if del.WebhookID == "" || del.EventID == "" {
		return "", &webhooks.ValidationError{Field: "delivery", Reason: "webhook and event ids are required"}
	}
	if len(del.Payload) == 0 {
		return "", &webhooks.ValidationError{Field: "delivery", Reason: "empty payload"}
	}

	jobID, err := d.enqueuer.Enqueue(ctx, jobs.Spec{
		Args: jobs.WebhookArgs{
			WebhookID:      del.WebhookID,
			OrganizationID: del.OrganizationID,
			EventID:        del.EventID,
			Event:          del.Trigger.String(),
			URL:            del.URL,
			Secret:         del.Secret,
			Payload:        string(del.Payload),
			Test:           del.Test,
		},
		Queue:       jobs.QueueDeliveries,
		MaxAttempts: d.maxAttempts,
		Unique:      true,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue delivery of %s to %s: %w", del.EventID, del.WebhookID, err)
	}
	return jobID, nil
}
