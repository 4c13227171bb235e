package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/jobs"
)

// Config sizes the River queues.
type Config struct {
	DeliveryWorkers     int
	NotificationWorkers int
	// MaxAttempts is the client-wide default; a jobs.Spec may override it.
	MaxAttempts int
	RetryPolicy river.ClientRetryPolicy
}

// uniqueStates are the job states a unique insert is deduplicated against.
// Completed jobs are left out so a later recurrence is delivered again.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// Manager owns the River client. It implements jobs.Enqueuer.
type Manager struct {
	client  *river.Client[pgx.Tx]
	workers *river.Workers
	log     *zap.Logger
}

var _ jobs.Enqueuer = (*Manager)(nil)

// NewManager creates the River client on pool. Workers are registered with
// AddWorker before Start.
func NewManager(pool *pgxpool.Pool, cfg Config, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DeliveryWorkers <= 0 {
		cfg.DeliveryWorkers = 8
	}
	if cfg.NotificationWorkers <= 0 {
		cfg.NotificationWorkers = 2
	}

	workers := river.NewWorkers()
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			jobs.QueueDeliveries:    {MaxWorkers: cfg.DeliveryWorkers},
			jobs.QueueNotifications: {MaxWorkers: cfg.NotificationWorkers},
		},
		Workers:     workers,
		MaxAttempts: cfg.MaxAttempts,
		RetryPolicy: cfg.RetryPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Manager{client: client, workers: workers, log: log}, nil
}

// AddWorker registers w with the manager's client.
func AddWorker[T river.JobArgs](m *Manager, w river.Worker[T]) {
	river.AddWorker(m.workers, w)
}

// Start begins working the deliveries and notifications queues.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start River client: %w", err)
	}
	m.log.Info("River queue started")
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	if err := m.client.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to stop River client: %w", err)
	}
	m.log.Info("River queue stopped")
	return nil
}

// Enqueue inserts spec and returns the River job id. A unique insert that
// matches a pending job returns the existing job's id.
func (m *Manager) Enqueue(ctx context.Context, spec jobs.Spec) (string, error) {
	if spec.Args == nil {
		return "", errors.New("enqueue: nil job args")
	}
	res, err := m.client.Insert(ctx, spec.Args, insertOpts(spec))
	if err != nil {
		return "", fmt.Errorf("insert %s job: %w", spec.Args.Kind(), err)
	}
	jobID := strconv.FormatInt(res.Job.ID, 10)
	if res.UniqueSkippedAsDuplicate {
		m.log.Debug("Skipped duplicate job",
			zap.String("kind", spec.Args.Kind()),
			zap.String("job_id", jobID),
		)
	}
	return jobID, nil
}

func insertOpts(spec jobs.Spec) *river.InsertOpts {
	opts := &river.InsertOpts{
		Queue:       spec.Queue,
		MaxAttempts: spec.MaxAttempts,
	}
	if spec.Unique {
		opts.UniqueOpts = river.UniqueOpts{ByArgs: true, ByState: uniqueStates}
	}
	return opts
}
