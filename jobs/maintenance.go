package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
)

// KeyPurger deletes idempotency keys older than a retention window;
// *shared.IdempotencyStore satisfies it.
type KeyPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// IdempotencyCleanupJob keeps the idempotency key table bounded.
type IdempotencyCleanupJob struct {
	Store   KeyPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store KeyPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle purges keys older than the payload retention.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.Retention <= 0 {
		return asynq.SkipRetry
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskIdempotencyCleanup))

	tracker := metrics.Track(TaskIdempotencyCleanup)
	purged, err := j.Store.Purge(ctx, payload.Retention)
	if err != nil {
		logger.Error("purge idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("idempotency keys purged", slog.Int64("rows", purged), slog.Duration("retention", payload.Retention))
	return tracker.End(nil)
}
