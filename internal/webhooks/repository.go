package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes mapped to domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository is the Postgres implementation of Store. Every mutation of a
// webhook row is a single statement; counters are never read and written
// back by the application.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new webhook repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const webhookColumns = `id, organization_id, name, url, secret, triggers, namespace_scope,
	disabled_at, consecutive_failures, last_failed_at, created_at, updated_at`

// Insert stores a new webhook. ID and timestamps must already be set.
func (r *Repository) Insert(ctx context.Context, wh *Webhook) error {
	query := `
		INSERT INTO webhooks (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		wh.ID,
		wh.OrganizationID,
		wh.Name,
		wh.URL,
		wh.Secret,
		TriggerNames(wh.Triggers),
		nonNil(wh.NamespaceScope),
		wh.DisabledAt,
		int32(wh.ConsecutiveFailures),
		wh.LastFailedAt,
		wh.CreatedAt,
		wh.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, wh.OrganizationID)
	}
	return nil
}

// Update applies p in one statement so concurrent patches of disjoint
// fields both land. Failure counters and the disabled flag are not touched.
func (r *Repository) Update(ctx context.Context, orgID, id string, p Patch, at time.Time) (*Webhook, error) {
	query := `
		UPDATE webhooks
		SET name = COALESCE($3, name),
			url = COALESCE($4, url),
			triggers = COALESCE($5, triggers),
			namespace_scope = COALESCE($6, namespace_scope),
			updated_at = $7
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + webhookColumns
	var triggers, scope any
	if p.Triggers != nil {
		triggers = TriggerNames(p.Triggers)
	}
	if p.NamespaceScope != nil {
		scope = nonNil(*p.NamespaceScope)
	}
	wh, err := scanWebhook(r.db.QueryRow(ctx, query, id, orgID, p.Name, p.URL, triggers, scope, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return nil, mapWriteError(err, orgID)
	}
	return wh, nil
}

// Delete removes a webhook owned by orgID.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "webhook", ID: id}
	}
	return nil
}

// Get returns a webhook owned by orgID.
func (r *Repository) Get(ctx context.Context, orgID, id string) (*Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1 AND organization_id = $2`
	wh, err := scanWebhook(r.db.QueryRow(ctx, query, id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return wh, nil
}

// List returns every webhook of an organization, newest first.
func (r *Repository) List(ctx context.Context, orgID string) ([]*Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE organization_id = $1 ORDER BY created_at DESC, id`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []*Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// ListProjections returns the cacheable view of an organization's webhooks.
func (r *Repository) ListProjections(ctx context.Context, orgID string) ([]Projection, error) {
	query := `
		SELECT id, url, secret, triggers, namespace_scope, disabled_at
		FROM webhooks
		WHERE organization_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list webhook projections: %w", err)
	}
	defer rows.Close()

	out := []Projection{}
	for rows.Next() {
		var (
			p        Projection
			triggers []string
		)
		if err := rows.Scan(&p.ID, &p.URL, &p.Secret, &triggers, &p.NamespaceScope, &p.DisabledAt); err != nil {
			return nil, fmt.Errorf("scan webhook projection: %w", err)
		}
		if p.Triggers, err = ParseTriggers(triggers); err != nil {
			return nil, fmt.Errorf("webhook %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetSecret replaces the signing secret of a webhook owned by orgID.
func (r *Repository) SetSecret(ctx context.Context, orgID, id, secret string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhooks SET secret = $3, updated_at = $4 WHERE id = $1 AND organization_id = $2`,
		id, orgID, secret, at)
	if err != nil {
		return fmt.Errorf("set webhook secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "webhook", ID: id}
	}
	return nil
}

// Disable marks an active webhook disabled. changed is false when the
// webhook was already disabled, in which case orgID is still returned so
// the caller can resync. Both are empty for an unknown id.
func (r *Repository) Disable(ctx context.Context, id string, at time.Time) (string, bool, error) {
	var orgID string
	err := r.db.QueryRow(ctx, `
		UPDATE webhooks SET disabled_at = $2, updated_at = $2
		WHERE id = $1 AND disabled_at IS NULL
		RETURNING organization_id
	`, id, at).Scan(&orgID)
	if err == nil {
		return orgID, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("disable webhook: %w", err)
	}
	err = r.db.QueryRow(ctx, `SELECT organization_id FROM webhooks WHERE id = $1`, id).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("disable webhook: %w", err)
	}
	return orgID, false, nil
}

// Enable clears the disabled flag and the failure counters.
func (r *Repository) Enable(ctx context.Context, id string, at time.Time) (string, error) {
	var orgID string
	err := r.db.QueryRow(ctx, `
		UPDATE webhooks
		SET disabled_at = NULL, consecutive_failures = 0, last_failed_at = NULL, updated_at = $2
		WHERE id = $1
		RETURNING organization_id
	`, id, at).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("enable webhook: %w", err)
	}
	return orgID, nil
}

// IncrementFailures atomically bumps the failure counter and returns the
// post-increment row state.
func (r *Repository) IncrementFailures(ctx context.Context, id string, at time.Time) (FailureState, error) {
	var (
		st    FailureState
		count int32
	)
	err := r.db.QueryRow(ctx, `
		UPDATE webhooks
		SET consecutive_failures = consecutive_failures + 1, last_failed_at = $2
		WHERE id = $1
		RETURNING id, organization_id, name, url, consecutive_failures, disabled_at
	`, id, at).Scan(&st.WebhookID, &st.OrganizationID, &st.Name, &st.URL, &count, &st.DisabledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FailureState{}, &NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return FailureState{}, fmt.Errorf("increment webhook failures: %w", err)
	}
	st.ConsecutiveFailures = uint(count)
	return st, nil
}

// ResetFailures zeroes the failure counters. It reports false without
// writing when they are already clear.
func (r *Repository) ResetFailures(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE webhooks
		SET consecutive_failures = 0, last_failed_at = NULL
		WHERE id = $1 AND (consecutive_failures > 0 OR last_failed_at IS NOT NULL)
	`, id)
	if err != nil {
		return false, fmt.Errorf("reset webhook failures: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeliveryTarget reads the live delivery fields of a webhook.
func (r *Repository) DeliveryTarget(ctx context.Context, id string) (*DeliveryTarget, error) {
	var t DeliveryTarget
	err := r.db.QueryRow(ctx,
		`SELECT id, organization_id, url, secret, disabled_at FROM webhooks WHERE id = $1`, id,
	).Scan(&t.WebhookID, &t.OrganizationID, &t.URL, &t.Secret, &t.DisabledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery target: %w", err)
	}
	return &t, nil
}

// RecomputeWebhookEnabled sets organizations.webhook_enabled from a fresh
// count of active webhooks and returns the new value.
func (r *Repository) RecomputeWebhookEnabled(ctx context.Context, orgID string) (bool, error) {
	var enabled bool
	err := r.db.QueryRow(ctx, `
		UPDATE organizations
		SET webhook_enabled = EXISTS (
			SELECT 1 FROM webhooks WHERE organization_id = $1 AND disabled_at IS NULL
		)
		WHERE id = $1
		RETURNING webhook_enabled
	`, orgID).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, &NotFoundError{Resource: "organization", ID: orgID}
	}
	if err != nil {
		return false, fmt.Errorf("recompute webhook_enabled: %w", err)
	}
	return enabled, nil
}

// Organization reads the webhook fields of an organization.
func (r *Repository) Organization(ctx context.Context, orgID string) (Organization, error) {
	org := Organization{ID: orgID}
	err := r.db.QueryRow(ctx, `SELECT webhook_enabled FROM organizations WHERE id = $1`, orgID).Scan(&org.WebhookEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, &NotFoundError{Resource: "organization", ID: orgID}
	}
	if err != nil {
		return Organization{}, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// OrganizationIDs lists organizations in id order, starting after the
// given cursor.
func (r *Repository) OrganizationIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM organizations WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var (
		wh       Webhook
		triggers []string
		count    int32
	)
	err := row.Scan(
		&wh.ID,
		&wh.OrganizationID,
		&wh.Name,
		&wh.URL,
		&wh.Secret,
		&triggers,
		&wh.NamespaceScope,
		&wh.DisabledAt,
		&count,
		&wh.LastFailedAt,
		&wh.CreatedAt,
		&wh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if wh.Triggers, err = ParseTriggers(triggers); err != nil {
		return nil, err
	}
	wh.ConsecutiveFailures = uint(count)
	return &wh, nil
}

func mapWriteError(err error, orgID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &ConflictError{Resource: "webhook", Reason: "url already registered for this organization"}
		case pgForeignKeyViolation:
			return &NotFoundError{Resource: "organization", ID: orgID}
		}
	}
	return fmt.Errorf("write webhook: %w", err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
