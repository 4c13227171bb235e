package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/herald/internal/webhooks"
	"github.com/sarathsp06/herald/internal/webhooks/webhookstest"
)

func seed(t *testing.T, n int) (*webhookstest.Store, *webhookstest.Cache, *webhooks.Registry) {
	t.Helper()
	store := webhookstest.NewStore()
	for i := 0; i < n; i++ {
		store.AddOrganization(fmt.Sprintf("org_%03d", i))
	}
	cache := webhookstest.NewCache()
	return store, cache, webhooks.NewRegistry(store, cache, nil)
}

func TestRunOnceRepairsDrift(t *testing.T) {
	store, cache, registry := seed(t, 7)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &webhooks.Webhook{
		ID:             "wh_1",
		OrganizationID: "org_002",
		URL:            "https://hooks.example.com",
		Triggers:       []webhooks.Trigger{webhooks.DocumentReady},
	}))
	store.SetWebhookEnabled("org_005", true)

	sw := New(store, registry, Config{PoolSize: 2, BatchSize: 3}, nil)
	stats, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Organizations: 7, Enabled: 1}, stats)

	org, err := store.Organization(ctx, "org_002")
	require.NoError(t, err)
	assert.True(t, org.WebhookEnabled)
	org, err = store.Organization(ctx, "org_005")
	require.NoError(t, err)
	assert.False(t, org.WebhookEnabled)

	assert.Len(t, cache.Invalidations(), 7)
}

type flakyReconciler struct {
	mu       sync.Mutex
	attempts map[string]int
	failures int
	notFound string
}

func (f *flakyReconciler) Reconcile(_ context.Context, orgID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[orgID]++
	if orgID == f.notFound {
		return false, &webhooks.NotFoundError{Resource: "organization", ID: orgID}
	}
	if f.attempts[orgID] <= f.failures {
		return false, errors.New("deadlock detected")
	}
	return true, nil
}

func TestRunOnceRetriesTransientErrors(t *testing.T) {
	store, _, _ := seed(t, 3)
	rec := &flakyReconciler{attempts: map[string]int{}, failures: 2, notFound: "org_001"}

	sw := New(store, rec, Config{MaxRetries: 3, RetryInitial: time.Millisecond}, nil)
	stats, err := sw.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Organizations: 3, Enabled: 2, Failed: 1}, stats)
	assert.Equal(t, 3, rec.attempts["org_000"])
	assert.Equal(t, 1, rec.attempts["org_001"], "not found is permanent")
}

func TestRunOnceGivesUpAfterMaxRetries(t *testing.T) {
	store, _, _ := seed(t, 1)
	rec := &flakyReconciler{attempts: map[string]int{}, failures: 100}

	sw := New(store, rec, Config{MaxRetries: 2, RetryInitial: time.Millisecond}, nil)
	stats, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, rec.attempts["org_000"])
}

type failingLister struct{}

func (failingLister) OrganizationIDs(context.Context, string, int) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestRunOnceReturnsListErrors(t *testing.T) {
	_, _, registry := seed(t, 0)
	_, err := New(failingLister{}, registry, Config{}, nil).RunOnce(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestRunStopsOnCancel(t *testing.T) {
	store, _, registry := seed(t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(store, registry, Config{Interval: time.Hour}, nil).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewDefaults(t *testing.T) {
	sw := New(nil, nil, Config{}, nil)
	assert.Equal(t, 8, sw.cfg.PoolSize)
	assert.Equal(t, 500, sw.cfg.BatchSize)
	assert.Equal(t, 15*time.Minute, sw.cfg.Interval)
	assert.Equal(t, uint64(3), sw.cfg.MaxRetries)
}
