// Package tracker counts consecutive delivery failures per webhook and
// acts on threshold crossings.
package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/audit"
	"github.com/sarathsp06/herald/internal/notify"
	"github.com/sarathsp06/herald/internal/observability"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// Config holds the failure thresholds.
type Config struct {
	// NotifyThresholds are the exact failure counts that raise a "failing"
	// notification.
	NotifyThresholds []uint
	// DisableThreshold is the failure count at which a webhook is disabled.
	DisableThreshold uint
}

// DefaultConfig returns thresholds 5, 10 and 15 with disabling at 20.
func DefaultConfig() Config {
	return Config{NotifyThresholds: []uint{5, 10, 15}, DisableThreshold: 20}
}

// Tracker owns the consecutive failure state machine:
// healthy -> failing(n) -> disabled, and back to healthy on success or
// admin re-enable. Transitions rely on the atomic post-increment value
// returned by the store, so each threshold fires once even when many
// workers fail at the same moment.
type Tracker struct {
	registry *webhooks.Registry
	store    webhooks.Store
	notifier notify.Notifier
	audit    audit.Publisher
	metrics  *observability.Metrics
	log      *zap.Logger
	now      func() time.Time

	disableAt uint
	notifyAt  map[uint]bool
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(log *zap.Logger) Option           { return func(t *Tracker) { t.log = log } }
func WithAudit(p audit.Publisher) Option          { return func(t *Tracker) { t.audit = p } }
func WithMetrics(m *observability.Metrics) Option { return func(t *Tracker) { t.metrics = m } }
func WithClock(now func() time.Time) Option       { return func(t *Tracker) { t.now = now } }

// New returns a tracker. A zero DisableThreshold falls back to the default.
func New(registry *webhooks.Registry, notifier notify.Notifier, cfg Config, opts ...Option) *Tracker {
	if cfg.DisableThreshold == 0 {
		cfg = DefaultConfig()
	}
	t := &Tracker{
		registry:  registry,
		store:     registry.Store(),
		notifier:  notifier,
		audit:     audit.Nop{},
		log:       zap.NewNop(),
		now:       time.Now,
		disableAt: cfg.DisableThreshold,
		notifyAt:  make(map[uint]bool, len(cfg.NotifyThresholds)),
	}
	for _, n := range cfg.NotifyThresholds {
		t.notifyAt[n] = true
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure counts one failed delivery attempt.
func (t *Tracker) RecordFailure(ctx context.Context, webhookID string) error {
	at := t.now().UTC()
	st, err := t.store.IncrementFailures(ctx, webhookID, at)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	log := t.log.With(
		zap.String("webhook_id", st.WebhookID),
		zap.String("organization_id", st.OrganizationID),
		zap.Uint("consecutive_failures", st.ConsecutiveFailures),
	)

	if st.DisabledAt != nil {
		log.Debug("Failure recorded for disabled webhook")
		return nil
	}

	if st.ConsecutiveFailures >= t.disableAt {
		changed, err := t.registry.Disable(ctx, webhookID)
		if !changed {
			return err
		}
		log.Warn("Webhook disabled after consecutive failures")
		t.metrics.WebhookDisabled(ctx)
		t.raise(ctx, notify.ReasonDisabled, audit.ActionAutoDisabled, st, at)
		return err
	}

	if t.notifyAt[st.ConsecutiveFailures] {
		log.Warn("Webhook reached failure notification threshold")
		t.raise(ctx, notify.ReasonFailing, audit.ActionFailing, st, at)
	}
	return nil
}

// Reset clears the failure counters after a successful delivery.
func (t *Tracker) Reset(ctx context.Context, webhookID string) error {
	reset, err := t.store.ResetFailures(ctx, webhookID)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	if reset {
		t.log.Info("Webhook recovered", zap.String("webhook_id", webhookID))
	}
	return nil
}

// Enable re-activates a webhook and clears its counters.
func (t *Tracker) Enable(ctx context.Context, orgID, webhookID, actor string) error {
	if err := t.registry.Enable(ctx, webhookID); err != nil {
		return err
	}
	t.publish(ctx, audit.Record{
		Action:         audit.ActionEnabled,
		OrganizationID: orgID,
		WebhookID:      webhookID,
		Actor:          actor,
		OccurredAt:     t.now().UTC(),
	})
	return nil
}

// Disable turns a webhook off on request. Owners are not notified.
func (t *Tracker) Disable(ctx context.Context, orgID, webhookID, actor string) error {
	changed, err := t.registry.Disable(ctx, webhookID)
	if changed {
		t.publish(ctx, audit.Record{
			Action:         audit.ActionDisabled,
			OrganizationID: orgID,
			WebhookID:      webhookID,
			Actor:          actor,
			OccurredAt:     t.now().UTC(),
		})
	}
	return err
}

func (t *Tracker) raise(ctx context.Context, reason notify.Reason, action audit.Action, st webhooks.FailureState, at time.Time) {
	t.metrics.FailureNotification(ctx, string(reason))
	err := t.notifier.Notify(ctx, notify.Notification{
		Reason:              reason,
		OrganizationID:      st.OrganizationID,
		WebhookID:           st.WebhookID,
		WebhookName:         st.Name,
		URL:                 st.URL,
		ConsecutiveFailures: st.ConsecutiveFailures,
		OccurredAt:          at,
	})
	if err != nil {
		t.log.Error("Failed to notify webhook owners",
			zap.String("webhook_id", st.WebhookID),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
	}
	t.publish(ctx, audit.Record{
		Action:              action,
		OrganizationID:      st.OrganizationID,
		WebhookID:           st.WebhookID,
		ConsecutiveFailures: st.ConsecutiveFailures,
		OccurredAt:          at,
	})
}

func (t *Tracker) publish(ctx context.Context, r audit.Record) {
	if err := t.audit.Publish(ctx, r); err != nil {
		t.log.Warn("Failed to publish audit record",
			zap.String("action", string(r.Action)),
			zap.String("webhook_id", r.WebhookID),
			zap.Error(err),
		)
	}
}
