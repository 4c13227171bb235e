package webhooks

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventIDPrefix prefixes every envelope id.
const EventIDPrefix = "evt_"

// createdAtLayout is ISO-8601 in UTC with millisecond precision.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

// Snapshot is the entity payload carried in an envelope.
type Snapshot interface {
	// Tier is the entity level of the snapshot.
	Tier() Tier
	// Namespace is the namespace the entity lives in.
	Namespace() string
}

// DocumentSnapshot is the document payload of document.* events.
type DocumentSnapshot struct {
	ID          string         `json:"id"`
	NamespaceID string         `json:"namespaceId"`
	Name        string         `json:"name,omitempty"`
	ExternalID  string         `json:"externalId,omitempty"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (DocumentSnapshot) Tier() Tier          { return TierDocument }
func (d DocumentSnapshot) Namespace() string { return d.NamespaceID }

// IngestJobSnapshot is the ingest job payload of ingest_job.* events.
type IngestJobSnapshot struct {
	ID            string    `json:"id"`
	NamespaceID   string    `json:"namespaceId"`
	Status        string    `json:"status"`
	Source        string    `json:"source,omitempty"`
	DocumentCount int       `json:"documentCount"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (IngestJobSnapshot) Tier() Tier          { return TierIngestJob }
func (j IngestJobSnapshot) Namespace() string { return j.NamespaceID }

// Envelope is the body POSTed to receivers. It is built once per logical
// event and shared by every matched webhook.
type Envelope struct {
	ID        string
	Event     Trigger
	CreatedAt time.Time
	Data      Snapshot
}

// NewEnvelope validates that data belongs to the trigger's tier.
func NewEnvelope(id string, event Trigger, createdAt time.Time, data Snapshot) (*Envelope, error) {
	if !event.Valid() {
		return nil, &ValidationError{Field: "event", Reason: "invalid trigger"}
	}
	if data == nil {
		return nil, &ValidationError{Field: "data", Reason: "missing snapshot"}
	}
	if data.Tier() != event.Tier() {
		return nil, &ValidationError{
			Field:  "data",
			Reason: fmt.Sprintf("%s snapshot cannot carry %s", data.Tier(), event),
		}
	}
	return &Envelope{ID: id, Event: event, CreatedAt: createdAt, Data: data}, nil
}

type wireEnvelope struct {
	ID        string   `json:"id"`
	Event     string   `json:"event"`
	CreatedAt string   `json:"createdAt"`
	Data      Snapshot `json:"data"`
}

// MarshalJSON renders the wire format {"id","event","createdAt","data"}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		ID:        e.ID,
		Event:     e.Event.String(),
		CreatedAt: e.CreatedAt.UTC().Format(createdAtLayout),
		Data:      e.Data,
	})
}
