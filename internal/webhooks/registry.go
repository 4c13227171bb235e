package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cache holds the projections of one organization per entry.
type Cache interface {
	Get(ctx context.Context, orgID string) ([]Projection, bool, error)
	Set(ctx context.Context, orgID string, projections []Projection) error
	Invalidate(ctx context.Context, orgID string) error
}

// ProjectionSource is the read side the emitter falls back to on a cache miss.
type ProjectionSource interface {
	ListProjections(ctx context.Context, orgID string) ([]Projection, error)
}

// Store is the persistence contract for webhook and organization rows.
type Store interface {
	ProjectionSource

	Insert(ctx context.Context, wh *Webhook) error
	Update(ctx context.Context, orgID, id string, p Patch, at time.Time) (*Webhook, error)
	Delete(ctx context.Context, orgID, id string) error
	Get(ctx context.Context, orgID, id string) (*Webhook, error)
	List(ctx context.Context, orgID string) ([]*Webhook, error)
	SetSecret(ctx context.Context, orgID, id, secret string, at time.Time) error

	Disable(ctx context.Context, id string, at time.Time) (orgID string, changed bool, err error)
	Enable(ctx context.Context, id string, at time.Time) (orgID string, err error)
	IncrementFailures(ctx context.Context, id string, at time.Time) (FailureState, error)
	ResetFailures(ctx context.Context, id string) (bool, error)
	DeliveryTarget(ctx context.Context, id string) (*DeliveryTarget, error)

	Organization(ctx context.Context, orgID string) (Organization, error)
	RecomputeWebhookEnabled(ctx context.Context, orgID string) (bool, error)
	OrganizationIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// Registry is the write path for webhooks. Every mutation evicts the
// organization's cache entry before returning, and mutations that change
// the active set recompute organizations.webhook_enabled.
type Registry struct {
	store Store
	cache Cache
	log   *zap.Logger
	now   func() time.Time
}

// NewRegistry wires a store to the cache it must keep coherent.
func NewRegistry(store Store, cache Cache, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, cache: cache, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Store exposes the underlying store for read paths.
func (r *Registry) Store() Store { return r.store }

// Now returns the registry's current time.
func (r *Registry) Now() time.Time { return r.now().UTC() }

// Create inserts a webhook and marks the organization webhook-enabled if it
// is active.
func (r *Registry) Create(ctx context.Context, wh *Webhook) error {
	if err := r.store.Insert(ctx, wh); err != nil {
		return err
	}
	return r.afterWrite(ctx, wh.OrganizationID, true)
}

// Update patches the configurable fields of a webhook and returns the
// stored row.
func (r *Registry) Update(ctx context.Context, orgID, id string, p Patch) (*Webhook, error) {
	wh, err := r.store.Update(ctx, orgID, id, p, r.Now())
	if err != nil {
		return nil, err
	}
	return wh, r.afterWrite(ctx, orgID, false)
}

// Delete removes a webhook.
func (r *Registry) Delete(ctx context.Context, orgID, id string) error {
	if err := r.store.Delete(ctx, orgID, id); err != nil {
		return err
	}
	return r.afterWrite(ctx, orgID, true)
}

// RotateSecret stores a new signing secret.
func (r *Registry) RotateSecret(ctx context.Context, orgID, id, secret string) error {
	if err := r.store.SetSecret(ctx, orgID, id, secret, r.Now()); err != nil {
		return err
	}
	return r.afterWrite(ctx, orgID, false)
}

// Disable marks a webhook disabled if it is active. Only the caller that
// performs the transition gets changed == true. The organization flag is
// recomputed and the cache evicted either way, which repairs drift when
// the webhook was already disabled.
func (r *Registry) Disable(ctx context.Context, id string) (bool, error) {
	orgID, changed, err := r.store.Disable(ctx, id, r.Now())
	if err != nil || orgID == "" {
		return false, err
	}
	return changed, r.afterWrite(ctx, orgID, true)
}

// Enable clears the disabled flag and failure counters.
func (r *Registry) Enable(ctx context.Context, id string) error {
	orgID, err := r.store.Enable(ctx, id, r.Now())
	if err != nil {
		return err
	}
	return r.afterWrite(ctx, orgID, true)
}

// Reconcile recomputes the organization flag and drops its cached
// projections, repairing drift left by a failed invalidation.
func (r *Registry) Reconcile(ctx context.Context, orgID string) (bool, error) {
	enabled, err := r.store.RecomputeWebhookEnabled(ctx, orgID)
	if err != nil {
		return false, err
	}
	if err := r.cache.Invalidate(ctx, orgID); err != nil {
		return enabled, fmt.Errorf("%w: %w", ErrCacheInvalidation, err)
	}
	return enabled, nil
}

// afterWrite runs after a committed mutation. Invalidation is attempted
// even when the recompute fails.
func (r *Registry) afterWrite(ctx context.Context, orgID string, activeSetChanged bool) error {
	var errs []error
	if activeSetChanged {
		enabled, err := r.store.RecomputeWebhookEnabled(ctx, orgID)
		if err != nil {
			errs = append(errs, err)
		} else {
			r.log.Debug("Recomputed webhook_enabled",
				zap.String("organization_id", orgID),
				zap.Bool("webhook_enabled", enabled),
			)
		}
	}
	if err := r.cache.Invalidate(ctx, orgID); err != nil {
		r.log.Error("Failed to invalidate webhook cache",
			zap.String("organization_id", orgID),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%w: %w", ErrCacheInvalidation, err))
	}
	return errors.Join(errs...)
}
