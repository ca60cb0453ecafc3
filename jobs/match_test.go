package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

type fakeMatcher struct {
	mu       sync.Mutex
	calls    []int64
	pending  []int64
	failures map[int64]error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeMatcher) PerformThreeWayMatch(ctx context.Context, poID int64) (procurement.MatchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, poID)
	err := f.failures[poID]
	f.mu.Unlock()
	if err != nil {
		return procurement.MatchResult{}, err
	}
	return procurement.MatchResult{POID: poID, Status: procurement.MatchMatched}, nil
}

func (f *fakeMatcher) PendingMatches(_ context.Context, limit int) ([]int64, error) {
	if limit > 0 && len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeMatcher) called() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

func newLocker(t *testing.T) (*miniredis.Miniredis, *redislock.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redislock.New(client)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMatchTaskPayloadRoundTrip(t *testing.T) {
	task, err := NewMatchTask(42, "vendor_bill:VB-1")
	require.NoError(t, err)
	assert.Equal(t, TaskMatchPurchaseOrder, task.Type())

	var payload MatchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, MatchPayload{POID: 42, Trigger: "vendor_bill:VB-1"}, payload)

	_, err = NewMatchTask(0, "")
	assert.Error(t, err)

	sweep, err := NewMatchSweepTask(25)
	require.NoError(t, err)
	assert.Equal(t, TaskMatchSweep, sweep.Type())
	assert.JSONEq(t, `{"limit":25}`, string(sweep.Payload()))
}

func TestMatchJobHandle(t *testing.T) {
	matcher := &fakeMatcher{failures: map[int64]error{
		8: shared.NotFound("purchase_order", 8),
		9: errors.New("database down"),
	}}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewMatchJob(matcher, nil, discardLogger(), metrics, MatchJobConfig{})

	task, err := NewMatchTask(7, "goods_receipt:GR-1")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int64{7}, matcher.called())

	missing, err := NewMatchTask(8, "")
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), missing), asynq.SkipRetry)

	failing, err := NewMatchTask(9, "")
	require.NoError(t, err)
	err = job.Handle(context.Background(), failing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskMatchPurchaseOrder, []byte("{"))), asynq.SkipRetry)
	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskMatchPurchaseOrder, []byte(`{"po_id":0}`))), asynq.SkipRetry)
}

func TestMatchSweepFansOutWithinLimit(t *testing.T) {
	_, locker := newLocker(t)
	matcher := &fakeMatcher{pending: []int64{1, 2, 3, 4, 5, 6, 7, 8}, delay: 10 * time.Millisecond}
	job := NewMatchJob(matcher, locker, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()),
		MatchJobConfig{Concurrency: 2})

	task, err := NewMatchSweepTask(6)
	require.NoError(t, err)
	require.NoError(t, job.HandleSweep(context.Background(), task))

	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5, 6}, matcher.called())
	assert.LessOrEqual(t, matcher.peak.Load(), int32(2))
}

func TestMatchSweepReportsFailures(t *testing.T) {
	_, locker := newLocker(t)
	matcher := &fakeMatcher{pending: []int64{1, 2, 3}, failures: map[int64]error{2: errors.New("conflict")}}
	job := NewMatchJob(matcher, locker, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()), MatchJobConfig{})

	err := job.HandleSweep(context.Background(), asynq.NewTask(TaskMatchSweep, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3")
	assert.ElementsMatch(t, []int64{1, 2, 3}, matcher.called(), "one failure does not stop the sweep")
}

func TestMatchSweepSkipsWhileLocked(t *testing.T) {
	mr, locker := newLocker(t)
	held, err := locker.Obtain(context.Background(), shared.MatchSweepLockKey, time.Minute, nil)
	require.NoError(t, err)

	matcher := &fakeMatcher{pending: []int64{1}}
	job := NewMatchJob(matcher, locker, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()), MatchJobConfig{})
	require.NoError(t, job.HandleSweep(context.Background(), asynq.NewTask(TaskMatchSweep, nil)))
	assert.Empty(t, matcher.called())

	require.NoError(t, held.Release(context.Background()))
	require.NoError(t, job.HandleSweep(context.Background(), asynq.NewTask(TaskMatchSweep, nil)))
	assert.Equal(t, []int64{1}, matcher.called())
	assert.False(t, mr.Exists(shared.MatchSweepLockKey), "sweep releases its lock")
}
