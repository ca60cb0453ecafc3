package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval history actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
	// ApprovalOverride marks a manual decision such as resolving a match exception.
	ApprovalOverride ApprovalAction = "OVERRIDE"
)

// ApprovalLog is one entry in a document's decision history.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRef derives a stable reference id for a document so history rows
// from different tables share one key space.
func ApprovalRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", module, id)))
}

func (l ApprovalLog) validate() error {
	var missing []error
	if l.Module == "" {
		missing = append(missing, errors.New("module"))
	}
	if l.ActorID <= 0 {
		missing = append(missing, errors.New("actor"))
	}
	if l.RefID == uuid.Nil {
		missing = append(missing, errors.New("ref id"))
	}
	switch l.Action {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject, ApprovalOverride:
	default:
		missing = append(missing, fmt.Errorf("action %q", l.Action))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: approval log: %w", ErrValidation, errors.Join(missing...))
	}
	return nil
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record appends an entry. A zero At falls back to the database clock.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	if r == nil || r.pool == nil {
		return errors.New("approval recorder not initialised")
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.String("action", string(log.Action)), slog.Any("error", err))
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// History returns the decisions taken on a document, oldest first.
func (r *ApprovalRecorder) History(ctx context.Context, module string, id int64) ([]ApprovalLog, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at, id`, module, ApprovalRef(module, id))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var l ApprovalLog
		var action string
		err := row.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At)
		l.Action = ApprovalAction(action)
		return l, err
	})
}
