package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the batch ledger operations used inside a transaction.
type TxRepository interface {
	ListBatchesForUpdate(ctx context.Context, productID, warehouseID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	FindBatchForUpdate(ctx context.Context, productID, warehouseID int64, batchNumber string) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatch(ctx context.Context, batch Batch) error
	InsertMovement(ctx context.Context, mv StockMovement) (int64, error)
	ListMovementsByReference(ctx context.Context, reference string) ([]StockMovement, error)
}

// NewTxRepository binds ledger operations to a transaction owned by another
// module so document and stock changes commit together.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListBatches returns batches matching filter ordered by expiry.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM batches
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = 0 OR warehouse_id = $2)
  AND ($3 OR quantity > 0)
  AND ($4 OR expiry_date IS NULL OR expiry_date >= CURRENT_DATE)
ORDER BY expiry_date ASC NULLS LAST, id ASC`, filter.ProductID, filter.WarehouseID, filter.IncludeEmpty, filter.IncludeExpired)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// ListMovements returns ledger movements matching filter in posting order.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = 0 OR warehouse_id = $2)
  AND ($3 = 0 OR batch_id = $3)
  AND ($4 = '' OR reference = $4)
  AND created_at BETWEEN COALESCE($5, '-infinity') AND COALESCE($6, 'infinity')
ORDER BY created_at ASC, id ASC
LIMIT $7`, filter.ProductID, filter.WarehouseID, filter.BatchID, filter.Reference, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
