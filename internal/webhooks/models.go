package webhooks

import (
	"slices"
	"time"
)

// Webhook is a registered endpoint together with its failure bookkeeping.
type Webhook struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organizationId"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Secret              string     `json:"secret"`
	Triggers            []Trigger  `json:"triggers"`
	NamespaceScope      []string   `json:"namespaceScope"`
	DisabledAt          *time.Time `json:"disabledAt"`
	ConsecutiveFailures uint       `json:"consecutiveFailures"`
	LastFailedAt        *time.Time `json:"lastFailedAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Active reports whether the webhook still receives deliveries.
func (w *Webhook) Active() bool { return w.DisabledAt == nil }

// Projection returns the cached view of w.
func (w *Webhook) Projection() Projection {
	return Projection{
		ID:             w.ID,
		URL:            w.URL,
		Secret:         w.Secret,
		Triggers:       slices.Clone(w.Triggers),
		DisabledAt:     w.DisabledAt,
		NamespaceScope: slices.Clone(w.NamespaceScope),
	}
}

// Patch names the configurable fields to change. Nil fields keep their
// stored value; a non-nil empty NamespaceScope clears the scope.
type Patch struct {
	Name           *string
	URL            *string
	Triggers       []Trigger
	NamespaceScope *[]string
}

// Projection is the subset of a webhook needed to match and deliver an event.
type Projection struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Secret         string     `json:"secret"`
	Triggers       []Trigger  `json:"triggers"`
	DisabledAt     *time.Time `json:"disabledAt,omitempty"`
	NamespaceScope []string   `json:"namespaceScope,omitempty"`
}

// Matches reports whether an active projection subscribes to trigger for
// an entity in namespaceID. An empty scope means every namespace.
func (p Projection) Matches(trigger Trigger, namespaceID string) bool {
	if p.DisabledAt != nil {
		return false
	}
	if !slices.Contains(p.Triggers, trigger) {
		return false
	}
	return len(p.NamespaceScope) == 0 || slices.Contains(p.NamespaceScope, namespaceID)
}

// Organization carries the tenant fields the emitter reads.
type Organization struct {
	ID string `json:"id"`
	// WebhookEnabled is true iff the organization has at least one active webhook.
	WebhookEnabled bool `json:"webhookEnabled"`
}

// DeliveryTarget is what a delivery attempt needs from the live row.
type DeliveryTarget struct {
	WebhookID      string
	OrganizationID string
	URL            string
	Secret         string
	DisabledAt     *time.Time
}

// FailureState is the row state returned by an atomic failure increment.
type FailureState struct {
	WebhookID           string
	OrganizationID      string
	Name                string
	URL                 string
	ConsecutiveFailures uint
	DisabledAt          *time.Time
}
