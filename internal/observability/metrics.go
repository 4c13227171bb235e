package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the delivery pipeline instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	EventsEmitted        metric.Int64Counter
	DeliveriesEnqueued   metric.Int64Counter
	DeliveryAttempts     metric.Int64Counter
	DeliveryDuration     metric.Float64Histogram
	FailureNotifications metric.Int64Counter
	WebhooksDisabled     metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := GetMeter("herald")
	var (
		m   Metrics
		err error
	)

	if m.EventsEmitted, err = meter.Int64Counter(
		"herald_events_emitted_total",
		metric.WithDescription("Lifecycle events that matched at least one webhook"),
	); err != nil {
		return nil, err
	}
	if m.DeliveriesEnqueued, err = meter.Int64Counter(
		"herald_deliveries_enqueued_total",
		metric.WithDescription("Delivery jobs enqueued"),
	); err != nil {
		return nil, err
	}
	if m.DeliveryAttempts, err = meter.Int64Counter(
		"herald_delivery_attempts_total",
		metric.WithDescription("Delivery attempts by outcome"),
	); err != nil {
		return nil, err
	}
	if m.DeliveryDuration, err = meter.Float64Histogram(
		"herald_delivery_duration_seconds",
		metric.WithDescription("Duration of webhook HTTP deliveries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.FailureNotifications, err = meter.Int64Counter(
		"herald_failure_notifications_total",
		metric.WithDescription("Owner notifications raised by the failure tracker"),
	); err != nil {
		return nil, err
	}
	if m.WebhooksDisabled, err = meter.Int64Counter(
		"herald_webhooks_auto_disabled_total",
		metric.WithDescription("Webhooks disabled after reaching the failure threshold"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) EventEmitted(ctx context.Context, trigger string, matched int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("trigger", trigger))
	m.EventsEmitted.Add(ctx, 1, attrs)
	m.DeliveriesEnqueued.Add(ctx, int64(matched), attrs)
}

func (m *Metrics) DeliveryAttempt(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.DeliveryAttempts.Add(ctx, 1, attrs)
	m.DeliveryDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) FailureNotification(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FailureNotifications.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) WebhookDisabled(ctx context.Context) {
	if m == nil {
		return
	}
	m.WebhooksDisabled.Add(ctx, 1)
}
