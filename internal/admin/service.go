// Package admin implements webhook management for organization admins.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/audit"
	"github.com/sarathsp06/herald/internal/auth"
	"github.com/sarathsp06/herald/internal/dispatch"
	"github.com/sarathsp06/herald/internal/emitter"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// CreateInput configures a new webhook. An empty Secret is generated.
type CreateInput struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Secret       string   `json:"secret,omitempty"`
	Triggers     []string `json:"triggers"`
	NamespaceIDs []string `json:"namespaceIds,omitempty"`
}

// UpdateInput changes the non-nil fields of a webhook.
type UpdateInput struct {
	Name         *string   `json:"name,omitempty"`
	URL          *string   `json:"url,omitempty"`
	Triggers     *[]string `json:"triggers,omitempty"`
	NamespaceIDs *[]string `json:"namespaceIds,omitempty"`
}

// Toggler flips the disabled state of a webhook and records who did it.
type Toggler interface {
	Enable(ctx context.Context, orgID, webhookID, actor string) error
	Disable(ctx context.Context, orgID, webhookID, actor string) error
}

// Sender enqueues one delivery.
type Sender interface {
	Send(ctx context.Context, d dispatch.Delivery) (string, error)
}

// Emitter fans a lifecycle event out to matching webhooks.
type Emitter interface {
	Emit(ctx context.Context, ev emitter.Event) emitter.Result
}

// Options tunes a Service.
type Options struct {
	AllowInsecureURLs bool
	Audit             audit.Publisher
	Logger            *zap.Logger
}

// Service validates admin requests and applies them through the registry.
type Service struct {
	registry      *webhooks.Registry
	store         webhooks.Store
	toggler       Toggler
	sender        Sender
	emitter       Emitter
	audit         audit.Publisher
	allowInsecure bool
	log           *zap.Logger
	newID         func() string
	newEventID    func() string
}

func NewService(registry *webhooks.Registry, toggler Toggler, sender Sender, em Emitter, opts Options) *Service {
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		registry:      registry,
		store:         registry.Store(),
		toggler:       toggler,
		sender:        sender,
		emitter:       em,
		audit:         opts.Audit,
		allowInsecure: opts.AllowInsecureURLs,
		log:           opts.Logger,
		newID:         uuid.NewString,
		newEventID:    emitter.NewEventID,
	}
}

// Create registers a webhook and returns it, secret included.
func (s *Service) Create(ctx context.Context, orgID string, in CreateInput) (*webhooks.Webhook, error) {
	name, err := webhooks.NormalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := webhooks.ValidateURL(in.URL, s.allowInsecure); err != nil {
		return nil, err
	}
	triggers, err := parseTriggers(in.Triggers)
	if err != nil {
		return nil, err
	}
	scope, err := webhooks.NormalizeNamespaces(in.NamespaceIDs)
	if err != nil {
		return nil, err
	}
	secret := in.Secret
	if secret == "" {
		if secret, err = webhooks.GenerateSecret(); err != nil {
			return nil, err
		}
	} else if err := webhooks.ValidateSecret(secret); err != nil {
		return nil, err
	}

	now := s.registry.Now()
	wh := &webhooks.Webhook{
		ID:             s.newID(),
		OrganizationID: orgID,
		Name:           name,
		URL:            in.URL,
		Secret:         secret,
		Triggers:       triggers,
		NamespaceScope: scope,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.registry.Create(ctx, wh); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionCreated, orgID, wh.ID)
	return wh, nil
}

// Update applies a partial change. Only the fields present in the input
// are written.
func (s *Service) Update(ctx context.Context, orgID, id string, in UpdateInput) (*webhooks.Webhook, error) {
	var patch webhooks.Patch
	if in.Name != nil {
		name, err := webhooks.NormalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if in.URL != nil {
		if err := webhooks.ValidateURL(*in.URL, s.allowInsecure); err != nil {
			return nil, err
		}
		patch.URL = in.URL
	}
	if in.Triggers != nil {
		triggers, err := parseTriggers(*in.Triggers)
		if err != nil {
			return nil, err
		}
		patch.Triggers = triggers
	}
	if in.NamespaceIDs != nil {
		scope, err := webhooks.NormalizeNamespaces(*in.NamespaceIDs)
		if err != nil {
			return nil, err
		}
		patch.NamespaceScope = &scope
	}

	wh, err := s.registry.Update(ctx, orgID, id, patch)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdated, orgID, id)
	return wh, nil
}

// Delete removes a webhook.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if err := s.registry.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.record(ctx, audit.ActionDeleted, orgID, id)
	return nil
}

// Toggle disables an active webhook or re-enables a disabled one.
func (s *Service) Toggle(ctx context.Context, orgID, id string) (*webhooks.Webhook, error) {
	wh, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	actor := auth.Actor(ctx)
	if wh.Active() {
		err = s.toggler.Disable(ctx, orgID, id, actor)
	} else {
		err = s.toggler.Enable(ctx, orgID, id, actor)
	}
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, orgID, id)
}

// RegenerateSecret replaces the signing secret and returns the new one.
func (s *Service) RegenerateSecret(ctx context.Context, orgID, id string) (string, error) {
	secret, err := webhooks.GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := s.registry.RotateSecret(ctx, orgID, id, secret); err != nil {
		return "", err
	}
	s.record(ctx, audit.ActionSecretRotated, orgID, id)
	return secret, nil
}

// Get returns one webhook of orgID.
func (s *Service) Get(ctx context.Context, orgID, id string) (*webhooks.Webhook, error) {
	return s.store.Get(ctx, orgID, id)
}

// List returns the webhooks of orgID.
func (s *Service) List(ctx context.Context, orgID string) ([]*webhooks.Webhook, error) {
	return s.store.List(ctx, orgID)
}

// TestResult identifies an enqueued test delivery.
type TestResult struct {
	EventID string `json:"eventId"`
	JobID   string `json:"jobId"`
}

// SendTest enqueues a sample envelope for one webhook. An empty trigger
// uses the webhook's first subscription. Test deliveries never touch the
// failure counters.
func (s *Service) SendTest(ctx context.Context, orgID, id, trigger string) (*TestResult, error) {
	wh, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !wh.Active() {
		return nil, &webhooks.ValidationError{Field: "webhook", Reason: "webhook is disabled"}
	}

	t := wh.Triggers[0]
	if trigger != "" {
		if t, err = webhooks.ParseTrigger(trigger); err != nil {
			return nil, err
		}
	}

	namespaceID := "ns_test"
	if len(wh.NamespaceScope) > 0 {
		namespaceID = wh.NamespaceScope[0]
	}
	now := s.registry.Now()
	env, err := webhooks.NewEnvelope(s.newEventID(), t, now, SampleSnapshot(t, namespaceID, now))
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, &webhooks.ConfigError{Op: "serialize test envelope", Err: err}
	}

	jobID, err := s.sender.Send(ctx, dispatch.Delivery{
		WebhookID:      wh.ID,
		OrganizationID: orgID,
		EventID:        env.ID,
		Trigger:        t,
		URL:            wh.URL,
		Secret:         wh.Secret,
		Payload:        body,
		Test:           true,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Queued test delivery",
		zap.String("organization_id", orgID),
		zap.String("webhook_id", id),
		zap.String("event_id", env.ID),
		zap.String("job_id", jobID),
	)
	return &TestResult{EventID: env.ID, JobID: jobID}, nil
}

// EmitInput reports a lifecycle transition from another service.
type EmitInput struct {
	Event       string          `json:"event"`
	NamespaceID string          `json:"namespaceId,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// EmitEvent decodes the snapshot for the event's tier, reads the
// organization's webhook flag and emits.
func (s *Service) EmitEvent(ctx context.Context, orgID string, in EmitInput) (emitter.Result, error) {
	t, err := webhooks.ParseTrigger(in.Event)
	if err != nil {
		return emitter.Result{}, err
	}
	data, err := decodeSnapshot(t, in.Data)
	if err != nil {
		return emitter.Result{}, err
	}
	if in.NamespaceID != "" && in.NamespaceID != data.Namespace() {
		return emitter.Result{}, &webhooks.ValidationError{Field: "namespaceId", Reason: "does not match data.namespaceId"}
	}
	org, err := s.store.Organization(ctx, orgID)
	if err != nil {
		return emitter.Result{}, err
	}
	return s.emitter.Emit(ctx, emitter.Event{
		Trigger:      t,
		Organization: org,
		NamespaceID:  in.NamespaceID,
		Data:         data,
	}), nil
}

func (s *Service) record(ctx context.Context, action audit.Action, orgID, id string) {
	err := s.audit.Publish(ctx, audit.Record{
		Action:         action,
		OrganizationID: orgID,
		WebhookID:      id,
		Actor:          auth.Actor(ctx),
		OccurredAt:     s.registry.Now(),
	})
	if err != nil {
		s.log.Warn("Failed to publish audit record",
			zap.String("action", string(action)),
			zap.String("webhook_id", id),
			zap.Error(err),
		)
	}
}

func parseTriggers(names []string) ([]webhooks.Trigger, error) {
	ts, err := webhooks.ParseTriggers(names)
	if err != nil {
		return nil, err
	}
	if err := webhooks.ValidateTriggers(ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func decodeSnapshot(t webhooks.Trigger, raw json.RawMessage) (webhooks.Snapshot, error) {
	if len(raw) == 0 {
		return nil, &webhooks.ValidationError{Field: "data", Reason: "missing snapshot"}
	}
	var (
		snap webhooks.Snapshot
		err  error
	)
	switch t.Tier() {
	case webhooks.TierDocument:
		var d webhooks.DocumentSnapshot
		err = json.Unmarshal(raw, &d)
		snap = d
	case webhooks.TierIngestJob:
		var j webhooks.IngestJobSnapshot
		err = json.Unmarshal(raw, &j)
		snap = j
	default:
		return nil, &webhooks.ValidationError{Field: "event", Reason: "unknown tier"}
	}
	if err != nil {
		return nil, &webhooks.ValidationError{Field: "data", Reason: fmt.Sprintf("malformed %s snapshot", t.Tier())}
	}
	return snap, nil
}

// SampleSnapshot builds placeholder data for a test delivery.
func SampleSnapshot(t webhooks.Trigger, namespaceID string, at time.Time) webhooks.Snapshot {
	status := t.Status().String()
	if t.Tier() == webhooks.TierIngestJob {
		return webhooks.IngestJobSnapshot{
			ID:            "ingest_job_test",
			NamespaceID:   namespaceID,
			Status:        status,
			Source:        "test",
			DocumentCount: 1,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
	}
	return webhooks.DocumentSnapshot{
		ID:          "doc_test",
		NamespaceID: namespaceID,
		Name:        "Test document",
		Status:      status,
		Metadata:    map[string]any{"test": true},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}
