// Package emitter matches lifecycle events against an organization's
// webhooks and hands each match to the dispatcher.
package emitter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/dispatch"
	"github.com/sarathsp06/herald/internal/observability"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// Event is a lifecycle transition reported by the platform.
type Event struct {
	Trigger webhooks.Trigger
	// Organization must carry the webhook_enabled flag as already loaded
	// by the caller, typically through webhooks.Store.Organization
	// (Repository.Organization in production). Emit does not read it.
	Organization webhooks.Organization
	// NamespaceID is optional. Scope matching always uses the snapshot's
	// namespace; an event whose NamespaceID disagrees with it is dropped.
	NamespaceID string
	Data        webhooks.Snapshot
}

// Result summarizes one Emit call.
type Result struct {
	EventID  string
	Matched  int
	Enqueued int
	// Skipped is set when the organization has no active webhooks.
	Skipped bool
}

// Sender enqueues one delivery.
type Sender interface {
	Send(ctx context.Context, d dispatch.Delivery) (string, error)
}

// Emitter is safe for concurrent use.
type Emitter struct {
	cache   webhooks.Cache
	source  webhooks.ProjectionSource
	sender  Sender
	metrics *observability.Metrics
	log     *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option configures an Emitter.
type Option func(*Emitter)

func WithLogger(log *zap.Logger) Option           { return func(e *Emitter) { e.log = log } }
func WithMetrics(m *observability.Metrics) Option { return func(e *Emitter) { e.metrics = m } }
func WithClock(now func() time.Time) Option       { return func(e *Emitter) { e.now = now } }
func WithIDGenerator(f func() string) Option      { return func(e *Emitter) { e.newID = f } }

// New returns an emitter reading through cache to source.
func New(cache webhooks.Cache, source webhooks.ProjectionSource, sender Sender, opts ...Option) *Emitter {
	e := &Emitter{
		cache:  cache,
		source: source,
		sender: sender,
		log:    zap.NewNop(),
		tracer: observability.GetTracer("herald/emitter"),
		now:    time.Now,
		newID:  NewEventID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEventID returns a fresh envelope id.
func NewEventID() string {
	return webhooks.EventIDPrefix + ulid.Make().String()
}

// Emit fans ev out to every matching webhook. It never fails the caller's
// transition: lookup, serialization and enqueue problems are logged and
// swallowed.
func (e *Emitter) Emit(ctx context.Context, ev Event) Result {
	if !ev.Organization.WebhookEnabled {
		return Result{Skipped: true}
	}

	ctx, span := e.tracer.Start(ctx, "emitter.Emit", trace.WithAttributes(
		attribute.String("trigger", ev.Trigger.String()),
		attribute.String("organization_id", ev.Organization.ID),
	))
	defer span.End()

	log := e.log.With(
		zap.String("organization_id", ev.Organization.ID),
		zap.Stringer("trigger", ev.Trigger),
	)

	env, err := webhooks.NewEnvelope(e.newID(), ev.Trigger, e.now(), ev.Data)
	if err != nil {
		log.Error("Dropping malformed lifecycle event", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return Result{}
	}
	namespaceID := ev.Data.Namespace()
	if ev.NamespaceID != "" && ev.NamespaceID != namespaceID {
		log.Warn("Dropping event with mismatched namespace",
			zap.String("event_id", env.ID),
			zap.String("namespace_id", ev.NamespaceID),
			zap.String("data_namespace_id", namespaceID),
		)
		span.SetStatus(codes.Error, "namespace mismatch")
		return Result{}
	}
	res := Result{EventID: env.ID}

	projections, ok := e.load(ctx, ev.Organization.ID, log)
	if !ok {
		return res
	}

	var matches []webhooks.Projection
	for _, p := range projections {
		if p.Matches(ev.Trigger, namespaceID) {
			matches = append(matches, p)
		}
	}
	res.Matched = len(matches)
	span.SetAttributes(attribute.Int("webhooks.matched", res.Matched))
	if res.Matched == 0 {
		return res
	}

	payload, err := json.Marshal(env)
	if err != nil {
		log.Error("Failed to serialize envelope", zap.String("event_id", env.ID), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return res
	}

	for _, p := range matches {
		_, err := e.sender.Send(ctx, dispatch.Delivery{
			WebhookID:      p.ID,
			OrganizationID: ev.Organization.ID,
			EventID:        env.ID,
			Trigger:        ev.Trigger,
			URL:            p.URL,
			Secret:         p.Secret,
			Payload:        payload,
		})
		if err != nil {
			log.Error("Failed to enqueue webhook delivery",
				zap.String("event_id", env.ID),
				zap.String("webhook_id", p.ID),
				zap.Error(err),
			)
			continue
		}
		res.Enqueued++
	}

	e.metrics.EventEmitted(ctx, ev.Trigger.String(), res.Enqueued)
	log.Debug("Emitted lifecycle event",
		zap.String("event_id", env.ID),
		zap.Int("matched", res.Matched),
		zap.Int("enqueued", res.Enqueued),
	)
	return res
}

// load reads the organization's projections from the cache, falling back
// to the source and repopulating the cache on a miss.
func (e *Emitter) load(ctx context.Context, orgID string, log *zap.Logger) ([]webhooks.Projection, bool) {
	projections, hit, err := e.cache.Get(ctx, orgID)
	if err != nil {
		log.Warn("Webhook cache read failed, using registry", zap.Error(err))
	} else if hit {
		return projections, true
	}

	projections, err = e.source.ListProjections(ctx, orgID)
	if err != nil {
		log.Error("Failed to load webhooks", zap.Error(err))
		return nil, false
	}
	if err := e.cache.Set(ctx, orgID, projections); err != nil {
		log.Warn("Failed to populate webhook cache", zap.Error(err))
	}
	return projections, true
}
