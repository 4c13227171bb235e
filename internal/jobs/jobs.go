// Package jobs defines durable job payloads and the queue-neutral enqueue
// contract.
package jobs

import "context"

// Queue names.
const (
	QueueDeliveries    = "deliveries"
	QueueNotifications = "notifications"
)

// Args is a job payload. Kind names the handler; the payload itself must
// round-trip through JSON.
type Args interface {
	Kind() string
}

// Spec describes one job to enqueue.
type Spec struct {
	Args  Args
	Queue string
	// MaxAttempts bounds retries. Zero uses the queue's default.
	MaxAttempts int
	// Unique asks the queue to drop the job if one with the same unique
	// args is already pending.
	Unique bool
}

// Enqueuer durably enqueues jobs and returns the queue's job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec Spec) (string, error)
}

// EnqueuerFunc adapts a function to Enqueuer.
type EnqueuerFunc func(ctx context.Context, spec Spec) (string, error)

func (f EnqueuerFunc) Enqueue(ctx context.Context, spec Spec) (string, error) {
	return f(ctx, spec)
}
