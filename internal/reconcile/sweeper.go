// Package reconcile periodically recomputes every organization's
// webhook_enabled flag and drops its cached projections.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/webhooks"
)

// Lister pages through organization ids in ascending order.
type Lister interface {
	OrganizationIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// Reconciler repairs one organization.
type Reconciler interface {
	Reconcile(ctx context.Context, orgID string) (bool, error)
}

type Config struct {
	PoolSize     int
	BatchSize    int
	Interval     time.Duration
	MaxRetries   uint64
	RetryInitial time.Duration
}

// Stats summarizes one sweep.
type Stats struct {
	Organizations int
	Enabled       int
	Failed        int
}

type Sweeper struct {
	lister     Lister
	reconciler Reconciler
	cfg        Config
	log        *zap.Logger
}

func New(lister Lister, reconciler Reconciler, cfg Config, log *zap.Logger) *Sweeper {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{lister: lister, reconciler: reconciler, cfg: cfg, log: log}
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Reconcile sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce visits every organization once. Per-organization failures are
// counted, not returned; only listing errors abort the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Stats, error) {
	start := time.Now()
	pool := pond.NewPool(s.cfg.PoolSize, pond.WithQueueSize(s.cfg.BatchSize), pond.WithContext(ctx))

	var total, enabled, failed atomic.Int64
	after := ""
	var listErr error
	for {
		ids, err := s.lister.OrganizationIDs(ctx, after, s.cfg.BatchSize)
		if err != nil {
			listErr = fmt.Errorf("list organizations after %q: %w", after, err)
			break
		}
		for _, orgID := range ids {
			total.Add(1)
			pool.Submit(func() {
				on, err := s.reconcileOne(ctx, orgID)
				if err != nil {
					failed.Add(1)
					s.log.Warn("Failed to reconcile organization",
						zap.String("organization_id", orgID),
						zap.Error(err),
					)
					return
				}
				if on {
					enabled.Add(1)
				}
			})
		}
		if len(ids) < s.cfg.BatchSize {
			break
		}
		after = ids[len(ids)-1]
	}
	pool.StopAndWait()

	stats := Stats{
		Organizations: int(total.Load()),
		Enabled:       int(enabled.Load()),
		Failed:        int(failed.Load()),
	}
	s.log.Info("Reconcile sweep completed",
		zap.Int("organizations", stats.Organizations),
		zap.Int("webhook_enabled", stats.Enabled),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return stats, listErr
}

func (s *Sweeper) reconcileOne(ctx context.Context, orgID string) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxElapsedTime = 0

	var enabled bool
	op := func() error {
		var err error
		enabled, err = s.reconciler.Reconcile(ctx, orgID)
		if webhooks.IsNotFound(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug("Retrying reconcile",
			zap.String("organization_id", orgID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), ctx), notify)
	return enabled, err
}
