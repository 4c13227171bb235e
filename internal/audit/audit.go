// Package audit publishes webhook lifecycle records to NATS JetStream.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Action is what happened to a webhook.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionDeleted       Action = "deleted"
	ActionSecretRotated Action = "secret_rotated"
	ActionEnabled       Action = "enabled"
	ActionDisabled      Action = "disabled"
	ActionAutoDisabled  Action = "auto_disabled"
	ActionFailing       Action = "failing"
)

// Record is one audit entry.
type Record struct {
	ID                  string    `json:"id"`
	Action              Action    `json:"action"`
	OrganizationID      string    `json:"organizationId"`
	WebhookID           string    `json:"webhookId"`
	Actor               string    `json:"actor,omitempty"`
	ConsecutiveFailures uint      `json:"consecutiveFailures,omitempty"`
	OccurredAt          time.Time `json:"occurredAt"`
}

// Publisher records webhook lifecycle changes. Publishing is best-effort;
// callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Publish(context.Context, Record) error { return nil }

// Config holds the NATS connection settings
type Config struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

type jetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher writes records to a JetStream stream under
// <prefix>.<organization>.<action>.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetStreamPublisher
	prefix string
	log    *zap.Logger
}

// NewNATSPublisher connects to NATS and makes sure the audit stream exists.
func NewNATSPublisher(ctx context.Context, cfg Config, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		MaxAge:   90 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure audit stream %s: %w", cfg.StreamName, err)
	}

	return &NATSPublisher{nc: nc, js: js, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Subject returns the subject a record is published on.
func (p *NATSPublisher) Subject(r Record) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, r.OrganizationID, r.Action)
}

func (p *NATSPublisher) Publish(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.Subject(r), data, jetstream.WithMsgID(r.ID)); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	if p.log != nil {
		p.log.Debug("Published audit record",
			zap.String("action", string(r.Action)),
			zap.String("webhook_id", r.WebhookID),
		)
	}
	return nil
}

// Close drains the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
