package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// TransitionAudit builds the audit entry written after a document changes status.
func TransitionAudit(ctx context.Context, entity string, id int64, from, to string, meta map[string]any) AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["from"] = from
	meta["to"] = to
	return AuditLog{
		ActorID:  ActorFromContext(ctx),
		Action:   fmt.Sprintf("%s:%s", entity, to),
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       time.Now().UTC(),
	}
}

// AuditLogger appends document history to audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists one entry. Callers treat failures as warnings since the
// document change has already committed.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	var missing []error
	for _, f := range [...]struct{ name, value string }{
		{"action", log.Action}, {"entity", log.Entity}, {"entity_id", log.EntityID},
	} {
		if f.value == "" {
			missing = append(missing, errors.New(f.name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: audit log missing %w", ErrValidation, errors.Join(missing...))
	}
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at); err != nil {
		return fmt.Errorf("insert audit log %s: %w", log.Action, err)
	}
	return nil
}
