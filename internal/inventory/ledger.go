package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Ledger mutates batch quantities and appends the matching movements. Every
// method runs on a caller-supplied transaction so stock changes commit or roll
// back together with the document that caused them.
type Ledger struct {
	now func() time.Time
}

// NewLedger builds a ledger using now as its clock. A nil clock uses time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Now returns the ledger clock in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// Today returns the current UTC calendar day used for expiry checks.
func (l *Ledger) Today() time.Time {
	return DateOnly(l.now())
}

// NewAllocator starts an allocation session on tx.
func (l *Ledger) NewAllocator(tx TxRepository) *Allocator {
	return NewAllocator(tx, l.Today())
}

// ReserveOrConsume re-reads the locked batch and decrements it by qty.
func (l *Ledger) ReserveOrConsume(ctx context.Context, tx TxRepository, batchID int64, qty decimal.Decimal, reference, note string) (StockMovement, error) {
	if !qty.IsPositive() {
		return StockMovement{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return StockMovement{}, err
	}
	if batch.Quantity.LessThan(qty) {
		return StockMovement{}, &shared.InsufficientStockError{
			ProductID:   batch.ProductID,
			WarehouseID: batch.WarehouseID,
			Required:    qty,
			Available:   batch.Quantity,
		}
	}
	batch.Quantity = batch.Quantity.Sub(qty)
	if err := tx.UpdateBatch(ctx, batch); err != nil {
		return StockMovement{}, err
	}
	mv := StockMovement{
		ProductID:   batch.ProductID,
		WarehouseID: batch.WarehouseID,
		BatchID:     batch.ID,
		Type:        MovementOut,
		Quantity:    qty.Neg(),
		UnitCost:    batch.CostPerUnit,
		Reference:   reference,
		Note:        note,
		CreatedAt:   l.Now(),
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return StockMovement{}, err
	}
	mv.ID = id
	return mv, nil
}

// Consume applies a planned allocation set, one OUT movement per batch.
func (l *Ledger) Consume(ctx context.Context, tx TxRepository, allocs []Allocation, reference string) ([]StockMovement, error) {
	movements := make([]StockMovement, 0, len(allocs))
	for _, alloc := range allocs {
		note := fmt.Sprintf("allocated from batch %s", alloc.BatchNumber)
		mv, err := l.ReserveOrConsume(ctx, tx, alloc.BatchID, alloc.Quantity, reference, note)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, nil
}

// Receive increments the batch identified by product, warehouse and batch
// number, creating it when absent. Incoming cost is blended into the batch
// cost by weighted average.
func (l *Ledger) Receive(ctx context.Context, tx TxRepository, in ReceiveInput) (Batch, StockMovement, error) {
	in.BatchNumber = strings.TrimSpace(in.BatchNumber)
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return Batch{}, StockMovement{}, fmt.Errorf("%w: warehouse and product required", shared.ErrValidation)
	}
	if in.BatchNumber == "" {
		return Batch{}, StockMovement{}, fmt.Errorf("%w: batch number required", shared.ErrValidation)
	}
	if !in.Quantity.IsPositive() {
		return Batch{}, StockMovement{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if in.CostPerUnit.IsNegative() {
		return Batch{}, StockMovement{}, fmt.Errorf("%w: unit cost cannot be negative", shared.ErrValidation)
	}

	batch, err := tx.FindBatchForUpdate(ctx, in.ProductID, in.WarehouseID, in.BatchNumber)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		batch = Batch{
			ProductID:   in.ProductID,
			WarehouseID: in.WarehouseID,
			BatchNumber: in.BatchNumber,
			Quantity:    in.Quantity,
			ExpiryDate:  in.ExpiryDate,
			CostPerUnit: in.CostPerUnit,
		}
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return Batch{}, StockMovement{}, err
		}
		batch.ID = id
	case err != nil:
		return Batch{}, StockMovement{}, err
	default:
		if !sameExpiry(batch.ExpiryDate, in.ExpiryDate) {
			return Batch{}, StockMovement{}, fmt.Errorf("%w: batch %s already holds expiry %s", shared.ErrValidation,
				batch.BatchNumber, formatExpiry(batch.ExpiryDate))
		}
		batch.CostPerUnit = weightedCost(batch.Quantity, batch.CostPerUnit, in.Quantity, in.CostPerUnit)
		batch.Quantity = batch.Quantity.Add(in.Quantity)
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return Batch{}, StockMovement{}, err
		}
	}

	mv := StockMovement{
		ProductID:   batch.ProductID,
		WarehouseID: batch.WarehouseID,
		BatchID:     batch.ID,
		Type:        MovementIn,
		Quantity:    in.Quantity,
		UnitCost:    in.CostPerUnit,
		Reference:   in.Reference,
		Note:        in.Note,
		CreatedAt:   l.Now(),
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Batch{}, StockMovement{}, err
	}
	mv.ID = id
	return batch, mv, nil
}

// Adjust applies a signed correction to one batch.
func (l *Ledger) Adjust(ctx context.Context, tx TxRepository, in AdjustmentInput) (Batch, StockMovement, error) {
	if in.Delta.IsZero() {
		return Batch{}, StockMovement{}, fmt.Errorf("%w: adjustment cannot be zero", shared.ErrValidation)
	}
	batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
	if err != nil {
		return Batch{}, StockMovement{}, err
	}
	next := batch.Quantity.Add(in.Delta)
	if next.IsNegative() {
		return Batch{}, StockMovement{}, &shared.InsufficientStockError{
			ProductID:   batch.ProductID,
			WarehouseID: batch.WarehouseID,
			Required:    in.Delta.Neg(),
			Available:   batch.Quantity,
		}
	}
	batch.Quantity = next
	if err := tx.UpdateBatch(ctx, batch); err != nil {
		return Batch{}, StockMovement{}, err
	}
	mv := StockMovement{
		ProductID:   batch.ProductID,
		WarehouseID: batch.WarehouseID,
		BatchID:     batch.ID,
		Type:        MovementAdjust,
		Quantity:    in.Delta,
		UnitCost:    batch.CostPerUnit,
		Reference:   in.Reference,
		Note:        in.Note,
		CreatedAt:   l.Now(),
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Batch{}, StockMovement{}, err
	}
	mv.ID = id
	return batch, mv, nil
}

func weightedCost(qty, cost, inQty, inCost decimal.Decimal) decimal.Decimal {
	total := qty.Add(inQty)
	if !total.IsPositive() || !qty.IsPositive() {
		return inCost
	}
	value := qty.Mul(cost).Add(inQty.Mul(inCost))
	return value.DivRound(total, 4)
}

// sameExpiry compares expiry dates by calendar day; nil only matches nil.
func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return DateOnly(*a).Equal(DateOnly(*b))
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.DateOnly)
}
