package queue

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/herald/internal/jobs"
	"github.com/sarathsp06/herald/internal/testdb"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := &RetryPolicy{Initial: 10 * time.Second, Max: time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, time.Minute},
		{25, time.Minute},
		{1000, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyJitterStaysBounded(t *testing.T) {
	p := NewRetryPolicy(time.Second, 30*time.Second)
	for attempt := 1; attempt < 12; attempt++ {
		d := p.Delay(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestRetryPolicyNextRetry(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &RetryPolicy{Initial: 10 * time.Second, Max: time.Hour, now: func() time.Time { return now }}

	next := p.NextRetry(&rivertype.JobRow{Attempt: 3})
	assert.Equal(t, now.Add(40*time.Second), next)
}

func TestInsertOpts(t *testing.T) {
	opts := insertOpts(jobs.Spec{
		Args:        jobs.WebhookArgs{},
		Queue:       jobs.QueueDeliveries,
		MaxAttempts: 7,
		Unique:      true,
	})
	assert.Equal(t, jobs.QueueDeliveries, opts.Queue)
	assert.Equal(t, 7, opts.MaxAttempts)
	assert.True(t, opts.UniqueOpts.ByArgs)
	assert.NotContains(t, opts.UniqueOpts.ByState, rivertype.JobStateCompleted)

	plain := insertOpts(jobs.Spec{Args: jobs.WebhookArgs{}, Queue: jobs.QueueNotifications})
	assert.False(t, plain.UniqueOpts.ByArgs)
}

type noopDeliveryWorker struct {
	river.WorkerDefaults[jobs.WebhookArgs]
}

func (noopDeliveryWorker) Work(context.Context, *river.Job[jobs.WebhookArgs]) error { return nil }

func TestManagerEnqueueIntegration(t *testing.T) {
	pool := testdb.Start(t)
	ctx := context.Background()

	m, err := NewManager(pool, Config{MaxAttempts: 3, RetryPolicy: NewRetryPolicy(time.Second, time.Minute)}, nil)
	require.NoError(t, err)
	AddWorker(m, river.Worker[jobs.WebhookArgs](noopDeliveryWorker{}))

	args := jobs.WebhookArgs{
		WebhookID: "wh_1",
		EventID:   "evt_01",
		Event:     "document.ready",
		URL:       "https://hooks.example.com",
		Payload:   `{"id":"evt_01"}`,
	}
	spec := jobs.Spec{Args: args, Queue: jobs.QueueDeliveries, Unique: true}

	first, err := m.Enqueue(ctx, spec)
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first, second, "pending duplicate is not inserted twice")

	args.WebhookID = "wh_2"
	other, err := m.Enqueue(ctx, jobs.Spec{Args: args, Queue: jobs.QueueDeliveries, Unique: true})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	id, err := strconv.ParseInt(first, 10, 64)
	require.NoError(t, err)
	var payload string
	err = pool.QueryRow(ctx, `SELECT args->>'payload' FROM river_job WHERE id = $1`, id).Scan(&payload)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"evt_01"}`, payload)

	_, err = m.Enqueue(ctx, jobs.Spec{Queue: jobs.QueueDeliveries})
	assert.Error(t, err)
}
