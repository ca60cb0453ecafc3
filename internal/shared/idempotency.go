package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates the key was already claimed.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Execer runs a statement. pgx.Tx and *pgxpool.Pool both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ClaimKey reserves key within module through exec. Called with the document
// transaction the key commits or rolls back together with the posting.
func ClaimKey(ctx context.Context, exec Execer, module, key string, at time.Time) error {
	if module == "" || key == "" {
		return fmt.Errorf("%w: idempotency module and key required", ErrValidation)
	}
	if exec == nil {
		return errors.New("idempotency: no executor")
	}
	tag, err := exec.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING`, module+":"+key, module, at)
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, key)
	}
	return nil
}

// IdempotencyStore maintains the idempotency_keys table outside any posting.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Purge deletes keys claimed before the retention window and reports how many
// rows went.
func (s *IdempotencyStore) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrValidation)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
