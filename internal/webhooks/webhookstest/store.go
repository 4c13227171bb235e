// Package webhookstest provides in-memory implementations of the webhooks
// Store and Cache for tests.
package webhookstest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sarathsp06/herald/internal/webhooks"
)

// Store is a mutex-guarded in-memory webhooks.Store. Each method holds the
// lock for its whole duration, mirroring single-statement updates.
type Store struct {
	mu       sync.Mutex
	webhooks map[string]*webhooks.Webhook
	orgs     map[string]bool

	// ListErr, when set, is returned by ListProjections.
	ListErr error
	// Reads counts ListProjections calls.
	Reads int
}

var _ webhooks.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		webhooks: make(map[string]*webhooks.Webhook),
		orgs:     make(map[string]bool),
	}
}

// AddOrganization registers an organization with webhook_enabled false.
func (s *Store) AddOrganization(orgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[orgID]; !ok {
		s.orgs[orgID] = false
	}
}

// Webhook returns a copy of the stored row, or nil.
func (s *Store) Webhook(id string) *webhooks.Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return nil
	}
	return clone(wh)
}

// ReadCount returns the number of ListProjections calls so far.
func (s *Store) ReadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Reads
}

func (s *Store) Insert(_ context.Context, wh *webhooks.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[wh.OrganizationID]; !ok {
		return &webhooks.NotFoundError{Resource: "organization", ID: wh.OrganizationID}
	}
	for _, other := range s.webhooks {
		if other.OrganizationID == wh.OrganizationID && other.URL == wh.URL {
			return &webhooks.ConflictError{Resource: "webhook", Reason: "url already registered for this organization"}
		}
	}
	s.webhooks[wh.ID] = clone(wh)
	return nil
}

func (s *Store) Update(_ context.Context, orgID, id string, p webhooks.Patch, at time.Time) (*webhooks.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok || cur.OrganizationID != orgID {
		return nil, &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	if p.URL != nil {
		for _, other := range s.webhooks {
			if other.ID != id && other.OrganizationID == orgID && other.URL == *p.URL {
				return nil, &webhooks.ConflictError{Resource: "webhook", Reason: "url already registered for this organization"}
			}
		}
		cur.URL = *p.URL
	}
	if p.Name != nil {
		cur.Name = *p.Name
	}
	if p.Triggers != nil {
		cur.Triggers = slices.Clone(p.Triggers)
	}
	if p.NamespaceScope != nil {
		cur.NamespaceScope = append([]string{}, *p.NamespaceScope...)
	}
	cur.UpdatedAt = at
	return clone(cur), nil
}

func (s *Store) Delete(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok || cur.OrganizationID != orgID {
		return &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	delete(s.webhooks, id)
	return nil
}

func (s *Store) Get(_ context.Context, orgID, id string) (*webhooks.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok || cur.OrganizationID != orgID {
		return nil, &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	return clone(cur), nil
}

func (s *Store) List(_ context.Context, orgID string) ([]*webhooks.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*webhooks.Webhook
	for _, wh := range s.webhooks {
		if wh.OrganizationID == orgID {
			out = append(out, clone(wh))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListProjections(_ context.Context, orgID string) ([]webhooks.Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := []webhooks.Projection{}
	for _, wh := range s.webhooks {
		if wh.OrganizationID == orgID {
			out = append(out, wh.Projection())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetSecret(_ context.Context, orgID, id, secret string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok || cur.OrganizationID != orgID {
		return &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	cur.Secret = secret
	cur.UpdatedAt = at
	return nil
}

func (s *Store) Disable(_ context.Context, id string, at time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok {
		return "", false, nil
	}
	if cur.DisabledAt != nil {
		return cur.OrganizationID, false, nil
	}
	cur.DisabledAt = &at
	cur.UpdatedAt = at
	return cur.OrganizationID, true, nil
}

func (s *Store) Enable(_ context.Context, id string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok {
		return "", &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	cur.DisabledAt = nil
	cur.ConsecutiveFailures = 0
	cur.LastFailedAt = nil
	cur.UpdatedAt = at
	return cur.OrganizationID, nil
}

func (s *Store) IncrementFailures(_ context.Context, id string, at time.Time) (webhooks.FailureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok {
		return webhooks.FailureState{}, &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	cur.ConsecutiveFailures++
	cur.LastFailedAt = &at
	return webhooks.FailureState{
		WebhookID:           cur.ID,
		OrganizationID:      cur.OrganizationID,
		Name:                cur.Name,
		URL:                 cur.URL,
		ConsecutiveFailures: cur.ConsecutiveFailures,
		DisabledAt:          cur.DisabledAt,
	}, nil
}

func (s *Store) ResetFailures(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok || (cur.ConsecutiveFailures == 0 && cur.LastFailedAt == nil) {
		return false, nil
	}
	cur.ConsecutiveFailures = 0
	cur.LastFailedAt = nil
	return true, nil
}

func (s *Store) DeliveryTarget(_ context.Context, id string) (*webhooks.DeliveryTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.webhooks[id]
	if !ok {
		return nil, &webhooks.NotFoundError{Resource: "webhook", ID: id}
	}
	return &webhooks.DeliveryTarget{
		WebhookID:      cur.ID,
		OrganizationID: cur.OrganizationID,
		URL:            cur.URL,
		Secret:         cur.Secret,
		DisabledAt:     cur.DisabledAt,
	}, nil
}

func (s *Store) Organization(_ context.Context, orgID string) (webhooks.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, ok := s.orgs[orgID]
	if !ok {
		return webhooks.Organization{}, &webhooks.NotFoundError{Resource: "organization", ID: orgID}
	}
	return webhooks.Organization{ID: orgID, WebhookEnabled: enabled}, nil
}

func (s *Store) RecomputeWebhookEnabled(_ context.Context, orgID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[orgID]; !ok {
		return false, &webhooks.NotFoundError{Resource: "organization", ID: orgID}
	}
	enabled := false
	for _, wh := range s.webhooks {
		if wh.OrganizationID == orgID && wh.DisabledAt == nil {
			enabled = true
			break
		}
	}
	s.orgs[orgID] = enabled
	return enabled, nil
}

// SetWebhookEnabled overwrites the stored flag, for drift scenarios.
func (s *Store) SetWebhookEnabled(orgID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[orgID] = enabled
}

func (s *Store) OrganizationIDs(_ context.Context, after string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orgs))
	for id := range s.orgs {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func clone(wh *webhooks.Webhook) *webhooks.Webhook {
	c := *wh
	c.Triggers = slices.Clone(wh.Triggers)
	c.NamespaceScope = slices.Clone(wh.NamespaceScope)
	return &c
}
