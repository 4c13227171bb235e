package workers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/herald/internal/jobs"
	"github.com/sarathsp06/herald/internal/notify"
	"github.com/sarathsp06/herald/internal/tracker"
	"github.com/sarathsp06/herald/internal/webhooks"
	"github.com/sarathsp06/herald/internal/webhooks/webhookstest"
)

const payload = `{"id":"evt_01","event":"document.ready","createdAt":"2024-05-01T10:00:00.000Z","data":{"id":"doc_1"}}`

type capturedRequest struct {
	header http.Header
	body   []byte
}

type receiver struct {
	server *httptest.Server
	status atomic.Int32
	hits   atomic.Int32

	mu   sync.Mutex
	last capturedRequest
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	r := &receiver{}
	r.status.Store(http.StatusOK)
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.last = capturedRequest{header: req.Header.Clone(), body: body}
		r.mu.Unlock()
		r.hits.Add(1)
		w.WriteHeader(int(r.status.Load()))
	}))
	t.Cleanup(r.server.Close)
	return r
}

type nopNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *nopNotifier) Notify(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

type fixture struct {
	store    *webhookstest.Store
	receiver *receiver
	notifier *nopNotifier
	worker   *DeliveryWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := webhookstest.NewStore()
	store.AddOrganization("org_1")
	registry := webhooks.NewRegistry(store, webhookstest.NewCache(), nil)
	rcv := newReceiver(t)

	require.NoError(t, registry.Create(context.Background(), &webhooks.Webhook{
		ID:             "wh_1",
		OrganizationID: "org_1",
		Name:           "Primary",
		URL:            rcv.server.URL,
		Secret:         "whsec_0123456789abcdef",
		Triggers:       []webhooks.Trigger{webhooks.DocumentReady},
	}))

	notifier := &nopNotifier{}
	tr := tracker.New(registry, notifier, tracker.DefaultConfig())
	worker := NewDeliveryWorker(store, tr, DeliveryConfig{Timeout: 2 * time.Second, UserAgent: "herald-test"}, nil, nil)
	return &fixture{store: store, receiver: rcv, notifier: notifier, worker: worker}
}

func deliveryJob(args jobs.WebhookArgs) *river.Job[jobs.WebhookArgs] {
	return &river.Job[jobs.WebhookArgs]{
		JobRow: &rivertype.JobRow{ID: 42, Attempt: 1, Kind: args.Kind()},
		Args:   args,
	}
}

func defaultArgs() jobs.WebhookArgs {
	return jobs.WebhookArgs{
		WebhookID:      "wh_1",
		OrganizationID: "org_1",
		EventID:        "evt_01",
		Event:          "document.ready",
		Payload:        payload,
	}
}

// isCancel matches any River cancellation regardless of the wrapped cause.
func isCancel(err error) bool {
	return errors.Is(err, river.JobCancel(errors.New("")))
}

func TestDeliverySignsExactBody(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.worker.Work(context.Background(), deliveryJob(defaultArgs())))

	f.receiver.mu.Lock()
	got := f.receiver.last
	f.receiver.mu.Unlock()

	assert.Equal(t, payload, string(got.body))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "herald-test", got.header.Get("User-Agent"))
	assert.Equal(t, "evt_01", got.header.Get(webhooks.HeaderEventID))
	assert.Equal(t, "document.ready", got.header.Get(webhooks.HeaderEvent))
	assert.Equal(t, webhooks.Sign([]byte(payload), "whsec_0123456789abcdef"), got.header.Get(webhooks.HeaderSignature))
	assert.NoError(t, webhooks.Verify(got.body, got.header.Get(webhooks.HeaderSignature), "whsec_0123456789abcdef"))
}

func TestDeliverySuccessResetsFailures(t *testing.T) {
	f := newFixture(t)
	f.receiver.status.Store(http.StatusInternalServerError)
	for range 3 {
		assert.Error(t, f.worker.Work(context.Background(), deliveryJob(defaultArgs())))
	}
	require.Equal(t, uint(3), f.store.Webhook("wh_1").ConsecutiveFailures)

	f.receiver.status.Store(http.StatusAccepted)
	require.NoError(t, f.worker.Work(context.Background(), deliveryJob(defaultArgs())))

	wh := f.store.Webhook("wh_1")
	assert.Zero(t, wh.ConsecutiveFailures)
	assert.Nil(t, wh.LastFailedAt)
}

func TestDeliveryFailureReturnsDeliveryError(t *testing.T) {
	f := newFixture(t)
	f.receiver.status.Store(http.StatusServiceUnavailable)

	err := f.worker.Work(context.Background(), deliveryJob(defaultArgs()))
	var derr *webhooks.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusServiceUnavailable, derr.StatusCode)
	assert.False(t, isCancel(err), "regular failures are retried")
	assert.Equal(t, uint(1), f.store.Webhook("wh_1").ConsecutiveFailures)
}

func TestDeliveryRedirectIsFailure(t *testing.T) {
	f := newFixture(t)
	f.receiver.status.Store(http.StatusFound)

	err := f.worker.Work(context.Background(), deliveryJob(defaultArgs()))
	var derr *webhooks.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusFound, derr.StatusCode)
}

func TestDeliveryTransportError(t *testing.T) {
	f := newFixture(t)
	f.receiver.server.Close()

	err := f.worker.Work(context.Background(), deliveryJob(defaultArgs()))
	var derr *webhooks.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Zero(t, derr.StatusCode)
	assert.Equal(t, uint(1), f.store.Webhook("wh_1").ConsecutiveFailures)
}

func TestDeliveryTimeoutIsFailure(t *testing.T) {
	f := newFixture(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	_, err := f.store.Update(context.Background(), "org_1", "wh_1", webhooks.Patch{URL: &slow.URL}, time.Now())
	require.NoError(t, err)
	f.worker = NewDeliveryWorker(f.store, tracker.New(webhooks.NewRegistry(f.store, webhookstest.NewCache(), nil), f.notifier, tracker.DefaultConfig()),
		DeliveryConfig{Timeout: 50 * time.Millisecond}, nil, nil)

	err = f.worker.Work(context.Background(), deliveryJob(defaultArgs()))
	var derr *webhooks.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, uint(1), f.store.Webhook("wh_1").ConsecutiveFailures)
}

func TestDeliveryDisablesAfterThresholdAndStops(t *testing.T) {
	f := newFixture(t)
	f.receiver.status.Store(http.StatusBadGateway)

	for range 20 {
		err := f.worker.Work(context.Background(), deliveryJob(defaultArgs()))
		require.Error(t, err)
		require.False(t, isCancel(err))
	}
	require.NotNil(t, f.store.Webhook("wh_1").DisabledAt)
	assert.Equal(t, int32(20), f.receiver.hits.Load())

	err := f.worker.Work(context.Background(), deliveryJob(defaultArgs()))
	assert.True(t, isCancel(err))
	assert.Equal(t, int32(20), f.receiver.hits.Load(), "disabled webhooks receive nothing")
	assert.Equal(t, uint(20), f.store.Webhook("wh_1").ConsecutiveFailures)

	var disabled int
	for _, n := range f.notifier.sent {
		if n.Reason == notify.ReasonDisabled {
			disabled++
		}
	}
	assert.Equal(t, 1, disabled)
}

func TestDeliveryToDeletedWebhookIsCancelled(t *testing.T) {
	f := newFixture(t)
	args := defaultArgs()
	args.WebhookID = "wh_gone"

	err := f.worker.Work(context.Background(), deliveryJob(args))
	assert.True(t, isCancel(err))
	assert.Zero(t, f.receiver.hits.Load())
}

func TestDeliveryUsesLiveSecret(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetSecret(context.Background(), "org_1", "wh_1", "whsec_rotated_0123456789", time.Now()))

	args := defaultArgs()
	args.Secret = "whsec_0123456789abcdef"
	require.NoError(t, f.worker.Work(context.Background(), deliveryJob(args)))

	f.receiver.mu.Lock()
	sig := f.receiver.last.header.Get(webhooks.HeaderSignature)
	f.receiver.mu.Unlock()
	assert.Equal(t, webhooks.Sign([]byte(payload), "whsec_rotated_0123456789"), sig)
}

func TestTestDeliveryLeavesCountersAlone(t *testing.T) {
	f := newFixture(t)
	f.receiver.status.Store(http.StatusInternalServerError)
	args := defaultArgs()
	args.Test = true

	err := f.worker.Work(context.Background(), deliveryJob(args))
	assert.True(t, isCancel(err), "failed test sends are not retried")
	assert.Zero(t, f.store.Webhook("wh_1").ConsecutiveFailures)

	f.receiver.status.Store(http.StatusOK)
	require.NoError(t, f.worker.Work(context.Background(), deliveryJob(defaultArgs())))
}

type trackerError struct{}

func (trackerError) RecordFailure(context.Context, string) error { return errors.New("db down") }
func (trackerError) Reset(context.Context, string) error         { return errors.New("db down") }

func TestTrackerErrorsDoNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	w := NewDeliveryWorker(f.store, trackerError{}, DeliveryConfig{}, nil, nil)

	assert.NoError(t, w.Work(context.Background(), deliveryJob(defaultArgs())))

	f.receiver.status.Store(http.StatusTeapot)
	var derr *webhooks.DeliveryError
	assert.ErrorAs(t, w.Work(context.Background(), deliveryJob(defaultArgs())), &derr)
}

func TestDeliveryWorkerTimeout(t *testing.T) {
	w := NewDeliveryWorker(nil, nil, DeliveryConfig{Timeout: 10 * time.Second}, nil, nil)
	assert.Equal(t, 15*time.Second, w.Timeout(nil))
}
