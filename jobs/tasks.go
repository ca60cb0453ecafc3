package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueMatching carries per-order and sweep match tasks.
	QueueMatching = "matching"
	// QueueMaintenance carries housekeeping tasks.
	QueueMaintenance = "maintenance"
	// TaskMatchPurchaseOrder re-evaluates the three-way match of one order.
	TaskMatchPurchaseOrder = "procurement:match"
	// TaskMatchSweep re-evaluates every order with an open match.
	TaskMatchSweep = "procurement:match:sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// QueuePriorities weights the worker's queues; matching is served first.
func QueuePriorities() map[string]int {
	return map[string]int{QueueMatching: 6, QueueMaintenance: 1}
}

// MatchPayload identifies the purchase order to match and what triggered it.
type MatchPayload struct {
	POID    int64  `json:"po_id"`
	Trigger string `json:"trigger,omitempty"`
}

// MatchSweepPayload bounds a sweep run.
type MatchSweepPayload struct {
	Limit int `json:"limit"`
}

// NewMatchTask builds a match task for poID.
func NewMatchTask(poID int64, trigger string) (*asynq.Task, error) {
	if poID <= 0 {
		return nil, fmt.Errorf("match task: invalid purchase order id %d", poID)
	}
	body, err := json.Marshal(MatchPayload{POID: poID, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMatchPurchaseOrder, body, asynq.Queue(QueueMatching), asynq.MaxRetry(5)), nil
}

// NewMatchSweepTask builds the periodic sweep task.
func NewMatchSweepTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(MatchSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMatchSweep, body, asynq.Queue(QueueMatching), asynq.MaxRetry(1)), nil
}

// IdempotencyCleanupPayload carries the key retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds the periodic key purge.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("idempotency cleanup: retention must be positive, got %s", retention)
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueMaintenance), asynq.MaxRetry(3)), nil
}
