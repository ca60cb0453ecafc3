package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const batchColumns = `id, product_id, warehouse_id, batch_number, quantity, expiry_date, cost_per_unit, created_at, updated_at`

const movementColumns = `id, product_id, warehouse_id, batch_id, movement_type, quantity, unit_cost, reference, note, created_at`

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+`
FROM batches
WHERE product_id=$1 AND warehouse_id=$2 AND quantity > 0
ORDER BY expiry_date ASC NULLS LAST, quantity DESC, id ASC
FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.NotFound("batch", id)
	}
	return batch, err
}

func (r *txRepository) FindBatchForUpdate(ctx context.Context, productID, warehouseID int64, batchNumber string) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+`
FROM batches WHERE product_id=$1 AND warehouse_id=$2 AND batch_number=$3 FOR UPDATE`, productID, warehouseID, batchNumber)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.NotFound("batch", 0)
	}
	return batch, err
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches (product_id, warehouse_id, batch_number, quantity, expiry_date, cost_per_unit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		batch.ProductID, batch.WarehouseID, batch.BatchNumber, batch.Quantity, batch.ExpiryDate, batch.CostPerUnit).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBatch(ctx context.Context, batch Batch) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET quantity=$2, cost_per_unit=$3, updated_at=NOW() WHERE id=$1`,
		batch.ID, batch.Quantity, batch.CostPerUnit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("batch", batch.ID)
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, mv StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, batch_id, movement_type, quantity, unit_cost, reference, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW())) RETURNING id`,
		mv.ProductID, mv.WarehouseID, mv.BatchID, string(mv.Type), mv.Quantity, mv.UnitCost, mv.Reference, mv.Note, nullTime(mv.CreatedAt)).Scan(&id)
	return id, err
}

func (r *txRepository) ListMovementsByReference(ctx context.Context, reference string) ([]StockMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements WHERE reference=$1 ORDER BY id ASC`, reference)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.BatchNumber, &b.Quantity, &b.ExpiryDate, &b.CostPerUnit, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func collectMovements(rows pgx.Rows) ([]StockMovement, error) {
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		var mv StockMovement
		var kind string
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.WarehouseID, &mv.BatchID, &kind, &mv.Quantity, &mv.UnitCost, &mv.Reference, &mv.Note, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Type = MovementType(kind)
		out = append(out, mv)
	}
	return out, rows.Err()
}
