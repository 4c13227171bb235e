package admin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/herald/internal/audit"
	"github.com/sarathsp06/herald/internal/auth"
	"github.com/sarathsp06/herald/internal/dispatch"
	"github.com/sarathsp06/herald/internal/emitter"
	"github.com/sarathsp06/herald/internal/notify"
	"github.com/sarathsp06/herald/internal/tracker"
	"github.com/sarathsp06/herald/internal/webhooks"
	"github.com/sarathsp06/herald/internal/webhooks/webhookstest"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []dispatch.Delivery
}

func (r *recordingSender) Send(_ context.Context, d dispatch.Delivery) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, d)
	return "job_1", nil
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, notify.Notification) error { return nil }

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Publish(ctx context.Context, r audit.Record) error {
	return m.Called(ctx, r).Error(0)
}

type fixture struct {
	store   *webhookstest.Store
	cache   *webhookstest.Cache
	sender  *recordingSender
	service *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := webhookstest.NewStore()
	store.AddOrganization("org_1")
	store.AddOrganization("org_2")
	cache := webhookstest.NewCache()
	registry := webhooks.NewRegistry(store, cache, nil)
	tr := tracker.New(registry, discardNotifier{}, tracker.DefaultConfig())
	sender := &recordingSender{}
	em := emitter.New(cache, store, sender)

	seq := 0
	svc := NewService(registry, tr, sender, em, opts)
	svc.newID = func() string {
		seq++
		return "wh_" + string(rune('0'+seq))
	}
	return &fixture{store: store, cache: cache, sender: sender, service: svc}
}

func validInput() CreateInput {
	return CreateInput{
		Name:     "  Primary ",
		URL:      "https://hooks.example.com/herald",
		Triggers: []string{"document.ready", "document.error", "document.ready"},
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	assert.Equal(t, "wh_1", wh.ID)
	assert.Equal(t, "Primary", wh.Name)
	assert.Equal(t, []webhooks.Trigger{webhooks.DocumentReady, webhooks.DocumentError}, wh.Triggers)
	assert.True(t, strings.HasPrefix(wh.Secret, webhooks.SecretPrefix))
	assert.Empty(t, wh.NamespaceScope)

	org, err := f.store.Organization(ctx, "org_1")
	require.NoError(t, err)
	assert.True(t, org.WebhookEnabled)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"empty name", func(in *CreateInput) { in.Name = " " }, "name"},
		{"plain http", func(in *CreateInput) { in.URL = "http://hooks.example.com" }, "url"},
		{"relative url", func(in *CreateInput) { in.URL = "/hook" }, "url"},
		{"no triggers", func(in *CreateInput) { in.Triggers = nil }, "triggers"},
		{"unknown trigger", func(in *CreateInput) { in.Triggers = []string{"document.exploded"} }, "trigger"},
		{"short secret", func(in *CreateInput) { in.Secret = "short" }, "secret"},
		{"blank namespace", func(in *CreateInput) { in.NamespaceIDs = []string{""} }, "namespaceIds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			in := validInput()
			tt.mutate(&in)

			_, err := f.service.Create(context.Background(), "org_1", in)
			var ve *webhooks.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, f.cache.Invalidations())
		})
	}
}

func TestCreateAllowsInsecureWhenConfigured(t *testing.T) {
	f := newFixture(t, Options{AllowInsecureURLs: true})
	in := validInput()
	in.URL = "http://localhost:9000/hook"
	_, err := f.service.Create(context.Background(), "org_1", in)
	assert.NoError(t, err)
}

func TestCreateDuplicateURLConflicts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	_, err = f.service.Create(ctx, "org_1", validInput())
	var conflict *webhooks.ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = f.service.Create(ctx, "org_2", validInput())
	assert.NoError(t, err, "urls are unique per organization")
}

func TestUpdatePartial(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	scope := []string{"ns_a", "ns_a", "ns_b"}
	got, err := f.service.Update(ctx, "org_1", wh.ID, UpdateInput{NamespaceIDs: &scope})
	require.NoError(t, err)
	assert.Equal(t, []string{"ns_a", "ns_b"}, got.NamespaceScope)
	assert.Equal(t, wh.URL, got.URL)
	assert.Equal(t, wh.Triggers, got.Triggers)

	bad := []string{}
	_, err = f.service.Update(ctx, "org_1", wh.ID, UpdateInput{Triggers: &bad})
	assert.True(t, webhooks.IsValidation(err))

	_, err = f.service.Update(ctx, "org_2", wh.ID, UpdateInput{})
	assert.True(t, webhooks.IsNotFound(err), "webhooks are scoped to their organization")
}

func TestConcurrentDisjointUpdatesBothLand(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		name := "renamed " + string(rune('a'+i))
		triggers := []string{"ingest_job.error"}
		if i%2 == 1 {
			triggers = []string{"document.deleted"}
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.service.Update(ctx, "org_1", wh.ID, UpdateInput{Name: &name})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.service.Update(ctx, "org_1", wh.ID, UpdateInput{Triggers: &triggers})
			assert.NoError(t, err)
		}()
		wg.Wait()

		got := f.store.Webhook(wh.ID)
		assert.Equal(t, name, got.Name)
		assert.Equal(t, triggers, webhooks.TriggerNames(got.Triggers))
	}
}

func TestToggle(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	got, err := f.service.Toggle(ctx, "org_1", wh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DisabledAt)
	org, _ := f.store.Organization(ctx, "org_1")
	assert.False(t, org.WebhookEnabled)

	got, err = f.service.Toggle(ctx, "org_1", wh.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DisabledAt)
	org, _ = f.store.Organization(ctx, "org_1")
	assert.True(t, org.WebhookEnabled)
}

func TestRegenerateSecret(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, "org_1", []webhooks.Projection{wh.Projection()}))

	secret, err := f.service.RegenerateSecret(ctx, "org_1", wh.ID)
	require.NoError(t, err)
	assert.NotEqual(t, wh.Secret, secret)
	assert.Equal(t, secret, f.store.Webhook(wh.ID).Secret)
	assert.False(t, f.cache.Has("org_1"), "old secret must not linger in the cache")
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, "org_1", wh.ID))
	_, err = f.service.Get(ctx, "org_1", wh.ID)
	assert.True(t, webhooks.IsNotFound(err))

	list, err := f.service.List(ctx, "org_1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendTest(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := validInput()
	in.NamespaceIDs = []string{"ns_a"}
	wh, err := f.service.Create(ctx, "org_1", in)
	require.NoError(t, err)

	res, err := f.service.SendTest(ctx, "org_1", wh.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "job_1", res.JobID)

	require.Len(t, f.sender.sent, 1)
	d := f.sender.sent[0]
	assert.True(t, d.Test)
	assert.Equal(t, res.EventID, d.EventID)
	assert.Equal(t, webhooks.DocumentReady, d.Trigger)

	var body map[string]any
	require.NoError(t, json.Unmarshal(d.Payload, &body))
	assert.Equal(t, "document.ready", body["event"])
	assert.Equal(t, "ns_a", body["data"].(map[string]any)["namespaceId"])

	res, err = f.service.SendTest(ctx, "org_1", wh.ID, "ingest_job.error")
	require.NoError(t, err)
	assert.Equal(t, webhooks.IngestJobError, f.sender.sent[1].Trigger)
	assert.NotEmpty(t, res.EventID)

	_, err = f.service.SendTest(ctx, "org_1", wh.ID, "bogus")
	assert.True(t, webhooks.IsValidation(err))
}

func TestSendTestRejectsDisabledWebhook(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wh, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)
	_, err = f.service.Toggle(ctx, "org_1", wh.ID)
	require.NoError(t, err)

	_, err = f.service.SendTest(ctx, "org_1", wh.ID, "")
	assert.True(t, webhooks.IsValidation(err))
	assert.Empty(t, f.sender.sent)
}

func TestEmitEvent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)

	res, err := f.service.EmitEvent(ctx, "org_1", EmitInput{
		Event: "document.ready",
		Data:  json.RawMessage(`{"id":"doc_9","namespaceId":"ns_x","status":"ready"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.False(t, f.sender.sent[0].Test)

	res, err = f.service.EmitEvent(ctx, "org_2", EmitInput{
		Event: "document.ready",
		Data:  json.RawMessage(`{"id":"doc_9","namespaceId":"ns_x"}`),
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped, "organization without webhooks")

	_, err = f.service.EmitEvent(ctx, "org_1", EmitInput{Event: "document.ready", Data: json.RawMessage(`[1]`)})
	assert.True(t, webhooks.IsValidation(err))

	_, err = f.service.EmitEvent(ctx, "org_1", EmitInput{Event: "ingest_job.ready"})
	assert.True(t, webhooks.IsValidation(err))
}

func TestEmitEventRejectsNamespaceMismatch(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := validInput()
	in.NamespaceIDs = []string{"ns_a"}
	_, err := f.service.Create(ctx, "org_1", in)
	require.NoError(t, err)

	_, err = f.service.EmitEvent(ctx, "org_1", EmitInput{
		Event:       "document.ready",
		NamespaceID: "ns_a",
		Data:        json.RawMessage(`{"id":"doc_1","namespaceId":"ns_b","status":"ready"}`),
	})
	assert.True(t, webhooks.IsValidation(err))
	assert.Empty(t, f.sender.sent)

	res, err := f.service.EmitEvent(ctx, "org_1", EmitInput{
		Event:       "document.ready",
		NamespaceID: "ns_a",
		Data:        json.RawMessage(`{"id":"doc_1","namespaceId":"ns_a","status":"ready"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
}

func TestAuditRecordsCarryActor(t *testing.T) {
	pub := new(mockAudit)
	f := newFixture(t, Options{Audit: pub})
	ctx := auth.WithClaims(context.Background(), &auth.Claims{
		OrganizationID:   "org_1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	})

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(r audit.Record) bool {
		return r.Action == audit.ActionCreated && r.Actor == "alice" && r.WebhookID == "wh_1"
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(r audit.Record) bool {
		return r.Action == audit.ActionDeleted
	})).Return(errors.New("nats unavailable")).Once()

	_, err := f.service.Create(ctx, "org_1", validInput())
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, "org_1", "wh_1"), "audit failures are not surfaced")

	pub.AssertExpectations(t)
}
