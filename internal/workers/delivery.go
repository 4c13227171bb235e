package workers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/riverqueue/river"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/jobs"
	"github.com/sarathsp06/herald/internal/observability"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// responseLimit caps how much of a receiver's response is read.
const responseLimit = 4 << 10

// Delivery outcomes recorded on the attempts metric.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeCancelled = "cancelled"
)

// TargetSource returns the live delivery state of a webhook.
type TargetSource interface {
	DeliveryTarget(ctx context.Context, id string) (*webhooks.DeliveryTarget, error)
}

// FailureTracker receives the outcome of each delivery attempt.
type FailureTracker interface {
	RecordFailure(ctx context.Context, webhookID string) error
	Reset(ctx context.Context, webhookID string) error
}

// DeliveryConfig tunes outbound requests.
type DeliveryConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// DeliveryWorker POSTs a signed envelope to one webhook.
type DeliveryWorker struct {
	river.WorkerDefaults[jobs.WebhookArgs]
	targets   TargetSource
	tracker   FailureTracker
	client    *http.Client
	timeout   time.Duration
	userAgent string
	metrics   *observability.Metrics
	log       *zap.Logger
}

// NewDeliveryWorker returns a worker whose HTTP client is traced with
// otelhttp and never follows redirects.
func NewDeliveryWorker(targets TargetSource, tracker FailureTracker, cfg DeliveryConfig, metrics *observability.Metrics, log *zap.Logger) *DeliveryWorker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Herald-Webhooks/1.0"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryWorker{
		targets: targets,
		tracker: tracker,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		metrics:   metrics,
		log:       log,
	}
}

// Timeout leaves the HTTP client's own deadline room to fire first.
func (w *DeliveryWorker) Timeout(*river.Job[jobs.WebhookArgs]) time.Duration {
	return w.timeout + 5*time.Second
}

// Work delivers the job's payload. Deleted or disabled webhooks cancel the
// job without touching counters. A failed attempt is counted and returned
// so River retries it; failed test sends are not retried.
func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[jobs.WebhookArgs]) error {
	args := job.Args
	log := w.log.With(
		zap.Int64("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.String("webhook_id", args.WebhookID),
		zap.String("event_id", args.EventID),
		zap.String("event", args.Event),
	)

	target, err := w.targets.DeliveryTarget(ctx, args.WebhookID)
	switch {
	case webhooks.IsNotFound(err):
		log.Info("Webhook deleted, cancelling delivery")
		w.metrics.DeliveryAttempt(ctx, outcomeCancelled, 0)
		return river.JobCancel(err)
	case err != nil:
		return fmt.Errorf("load delivery target: %w", err)
	case target.DisabledAt != nil:
		log.Info("Webhook disabled, cancelling delivery", zap.Time("disabled_at", *target.DisabledAt))
		w.metrics.DeliveryAttempt(ctx, outcomeCancelled, 0)
		return river.JobCancel(fmt.Errorf("webhook %s is disabled", args.WebhookID))
	}

	start := time.Now()
	status, err := w.post(ctx, target, args)
	duration := time.Since(start)
	log = log.With(zap.Duration("duration", duration), zap.Int("status_code", status))

	if err == nil {
		w.metrics.DeliveryAttempt(ctx, outcomeSuccess, duration)
		log.Info("Webhook delivered")
		if !args.Test {
			if err := w.tracker.Reset(ctx, args.WebhookID); err != nil {
				log.Error("Failed to reset failure counters", zap.Error(err))
			}
		}
		return nil
	}

	w.metrics.DeliveryAttempt(ctx, outcomeFailure, duration)
	log.Warn("Webhook delivery failed", zap.Error(err))
	if args.Test {
		return river.JobCancel(err)
	}
	if rerr := w.tracker.RecordFailure(ctx, args.WebhookID); rerr != nil {
		log.Error("Failed to record delivery failure", zap.Error(rerr))
	}
	return err
}

// post sends one attempt. Any non-2xx status, timeout or transport error is
// returned as a *webhooks.DeliveryError.
func (w *DeliveryWorker) post(ctx context.Context, target *webhooks.DeliveryTarget, args jobs.WebhookArgs) (int, error) {
	body := []byte(args.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &webhooks.DeliveryError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set(webhooks.HeaderSignature, webhooks.Sign(body, target.Secret))
	req.Header.Set(webhooks.HeaderEventID, args.EventID)
	req.Header.Set(webhooks.HeaderEvent, args.Event)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, &webhooks.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	// Drain up to the limit so the connection can be reused.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &webhooks.DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(snippet)),
		}
	}
	return resp.StatusCode, nil
}
