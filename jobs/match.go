package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const (
	defaultSweepLimit       = 200
	defaultSweepConcurrency = 4
	defaultSweepLockTTL     = 5 * time.Minute
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// MatchService is the procurement behaviour the match jobs drive.
type MatchService interface {
	PerformThreeWayMatch(ctx context.Context, poID int64) (procurement.MatchResult, error)
	PendingMatches(ctx context.Context, limit int) ([]int64, error)
}

// Locker obtains distributed locks; *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// MatchJobConfig tunes the sweep.
type MatchJobConfig struct {
	SweepLimit  int
	Concurrency int
	LockTTL     time.Duration
}

// MatchJob re-runs idempotent three-way matches in the background.
type MatchJob struct {
	Service MatchService
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	cfg     MatchJobConfig
}

// NewMatchJob constructs the job handlers.
func NewMatchJob(service MatchService, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics, cfg MatchJobConfig) *MatchJob {
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = defaultSweepLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSweepConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultSweepLockTTL
	}
	return &MatchJob{Service: service, Locker: locker, Logger: logger, Metrics: metrics, cfg: cfg}
}

// Handle evaluates the match of a single purchase order.
func (j *MatchJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("match job: dependencies not configured")
	}
	var payload MatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.POID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskMatchPurchaseOrder)
	result, err := j.Service.PerformThreeWayMatch(ctx, payload.POID)
	if errors.Is(err, shared.ErrNotFound) {
		j.log(TaskMatchPurchaseOrder).Warn("purchase order not found", slog.Int64("po_id", payload.POID))
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err != nil {
		j.log(TaskMatchPurchaseOrder).Error("perform match", slog.Int64("po_id", payload.POID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddMatchOutcome(result.Status.String())
	j.log(TaskMatchPurchaseOrder).Info("match evaluated",
		slog.Int64("po_id", payload.POID),
		slog.String("trigger", payload.Trigger),
		slog.String("status", result.Status.String()))
	return tracker.End(nil)
}

// HandleSweep re-evaluates every open match. Only one worker sweeps at a time;
// the others skip while the lock is held.
func (j *MatchJob) HandleSweep(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil || j.Locker == nil {
		return errors.New("match sweep: dependencies not configured")
	}
	var payload MatchSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = j.cfg.SweepLimit
	}
	logger := j.log(TaskMatchSweep)

	lock, err := j.Locker.Obtain(ctx, shared.MatchSweepLockKey, j.cfg.LockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		j.metrics().AddSkipped(TaskMatchSweep)
		logger.Info("sweep already running elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("match sweep: obtain lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn("release sweep lock", slog.Any("error", err))
		}
	}()

	tracker := j.metrics().Track(TaskMatchSweep)
	start := time.Now()
	ids, err := j.Service.PendingMatches(ctx, limit)
	if err != nil {
		logger.Error("list pending matches", slog.Any("error", err))
		return tracker.End(err)
	}
	if len(ids) == 0 {
		logger.Info("no open matches")
		return tracker.End(nil)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			result, err := j.Service.PerformThreeWayMatch(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logger.Warn("sweep match failed", slog.Int64("po_id", id), slog.Any("error", err))
				return nil
			}
			j.metrics().AddMatchOutcome(result.Status.String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tracker.End(err)
	}
	if n := failed.Load(); n > 0 {
		return tracker.End(fmt.Errorf("match sweep: %d of %d purchase orders failed", n, len(ids)))
	}
	logger.Info("match sweep completed", slog.Int("orders", len(ids)), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *MatchJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *MatchJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
