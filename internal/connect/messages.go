package connect

import (
	"encoding/json"
	"time"

	"github.com/sarathsp06/herald/internal/admin"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// Procedure paths of the admin WebhookService.
const (
	ServiceName = "herald.admin.v1.WebhookService"

	CreateWebhookProcedure    = "/" + ServiceName + "/CreateWebhook"
	UpdateWebhookProcedure    = "/" + ServiceName + "/UpdateWebhook"
	DeleteWebhookProcedure    = "/" + ServiceName + "/DeleteWebhook"
	ToggleWebhookProcedure    = "/" + ServiceName + "/ToggleWebhook"
	RegenerateSecretProcedure = "/" + ServiceName + "/RegenerateSecret"
	SendTestWebhookProcedure  = "/" + ServiceName + "/SendTestWebhook"
	GetWebhookProcedure       = "/" + ServiceName + "/GetWebhook"
	ListWebhooksProcedure     = "/" + ServiceName + "/ListWebhooks"
	EmitEventProcedure        = "/" + ServiceName + "/EmitEvent"
)

// Webhook is the API view of a webhook. The secret is only returned by
// CreateWebhook and RegenerateSecret.
type Webhook struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Triggers            []string   `json:"triggers"`
	NamespaceIDs        []string   `json:"namespaceIds"`
	Disabled            bool       `json:"disabled"`
	DisabledAt          *time.Time `json:"disabledAt,omitempty"`
	ConsecutiveFailures uint       `json:"consecutiveFailures"`
	LastFailedAt        *time.Time `json:"lastFailedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func toWebhook(wh *webhooks.Webhook) *Webhook {
	scope := wh.NamespaceScope
	if scope == nil {
		scope = []string{}
	}
	return &Webhook{
		ID:                  wh.ID,
		Name:                wh.Name,
		URL:                 wh.URL,
		Triggers:            webhooks.TriggerNames(wh.Triggers),
		NamespaceIDs:        scope,
		Disabled:            !wh.Active(),
		DisabledAt:          wh.DisabledAt,
		ConsecutiveFailures: wh.ConsecutiveFailures,
		LastFailedAt:        wh.LastFailedAt,
		CreatedAt:           wh.CreatedAt,
		UpdatedAt:           wh.UpdatedAt,
	}
}

type CreateWebhookRequest = admin.CreateInput

type CreateWebhookResponse struct {
	Webhook *Webhook `json:"webhook"`
	Secret  string   `json:"secret"`
}

type UpdateWebhookRequest struct {
	ID string `json:"id"`
	admin.UpdateInput
}

type WebhookRequest struct {
	ID string `json:"id"`
}

type WebhookResponse struct {
	Webhook *Webhook `json:"webhook"`
}

type DeleteWebhookResponse struct{}

type RegenerateSecretResponse struct {
	Secret string `json:"secret"`
}

type SendTestWebhookRequest struct {
	ID      string `json:"id"`
	Trigger string `json:"trigger,omitempty"`
}

type SendTestWebhookResponse = admin.TestResult

type ListWebhooksRequest struct{}

type ListWebhooksResponse struct {
	Webhooks []*Webhook `json:"webhooks"`
}

type EmitEventRequest struct {
	Event       string          `json:"event"`
	NamespaceID string          `json:"namespaceId,omitempty"`
	Data        json.RawMessage `json:"data"`
}

type EmitEventResponse struct {
	EventID  string `json:"eventId,omitempty"`
	Matched  int    `json:"matched"`
	Enqueued int    `json:"enqueued"`
	Skipped  bool   `json:"skipped"`
}
