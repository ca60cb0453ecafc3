package inventory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Allocator plans allocations inside one transaction. Quantities planned by
// earlier calls are subtracted from later ones so two lines of the same
// document never count a batch twice.
type Allocator struct {
	tx      TxRepository
	today   time.Time
	planned map[int64]decimal.Decimal
}

// NewAllocator builds an allocator bound to tx evaluating expiry against today.
func NewAllocator(tx TxRepository, today time.Time) *Allocator {
	return &Allocator{tx: tx, today: DateOnly(today), planned: make(map[int64]decimal.Decimal)}
}

// Allocate returns batch allocations summing exactly to req.Quantity.
func (a *Allocator) Allocate(ctx context.Context, req AllocationRequest) ([]Allocation, error) {
	if req.ProductID == 0 || req.WarehouseID == 0 {
		return nil, fmt.Errorf("%w: warehouse and product required", shared.ErrValidation)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	var (
		allocs []Allocation
		err    error
	)
	switch req.Policy {
	case PolicyExplicitBatch:
		allocs, err = a.allocateExplicit(ctx, req)
	case PolicyFEFO, "":
		allocs, err = a.allocateFEFO(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown allocation policy %q", shared.ErrValidation, req.Policy)
	}
	if err != nil {
		return nil, err
	}
	for _, alloc := range allocs {
		a.planned[alloc.BatchID] = a.planned[alloc.BatchID].Add(alloc.Quantity)
	}
	return allocs, nil
}

// Reset forgets planned quantities, used after the plan was committed to the ledger.
func (a *Allocator) Reset() {
	clear(a.planned)
}

func (a *Allocator) allocateExplicit(ctx context.Context, req AllocationRequest) ([]Allocation, error) {
	if req.BatchID == 0 {
		return nil, fmt.Errorf("%w: batch id required for explicit allocation", shared.ErrValidation)
	}
	batch, err := a.tx.GetBatchForUpdate(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if batch.ProductID != req.ProductID || batch.WarehouseID != req.WarehouseID {
		return nil, shared.NotFound("batch", req.BatchID)
	}
	if batch.IsExpired(a.today) {
		return nil, &shared.ExpiredBatchError{BatchID: batch.ID, ExpiryDate: *batch.ExpiryDate}
	}
	available := batch.Quantity.Sub(a.planned[batch.ID])
	if available.LessThan(req.Quantity) {
		return nil, &shared.InsufficientStockError{
			ProductID:   req.ProductID,
			WarehouseID: req.WarehouseID,
			Required:    req.Quantity,
			Available:   decimal.Max(available, decimal.Zero),
		}
	}
	return []Allocation{toAllocation(batch, req.Quantity)}, nil
}

func (a *Allocator) allocateFEFO(ctx context.Context, req AllocationRequest) ([]Allocation, error) {
	batches, err := a.tx.ListBatchesForUpdate(ctx, req.ProductID, req.WarehouseID)
	if err != nil {
		return nil, err
	}
	for i := range batches {
		batches[i].Quantity = batches[i].Quantity.Sub(a.planned[batches[i].ID])
	}
	return PlanFEFO(req, batches, a.today)
}

// PlanFEFO greedily consumes non-expired batches ordered by expiry (nulls
// last), then by larger quantity to keep splits low, then by id.
func PlanFEFO(req AllocationRequest, batches []Batch, today time.Time) ([]Allocation, error) {
	candidates := make([]Batch, 0, len(batches))
	available := decimal.Zero
	for _, b := range batches {
		if b.ProductID != req.ProductID || b.WarehouseID != req.WarehouseID {
			continue
		}
		if !b.Quantity.IsPositive() || b.IsExpired(today) {
			continue
		}
		candidates = append(candidates, b)
		available = available.Add(b.Quantity)
	}
	if available.LessThan(req.Quantity) {
		return nil, &shared.InsufficientStockError{
			ProductID:   req.ProductID,
			WarehouseID: req.WarehouseID,
			Required:    req.Quantity,
			Available:   available,
		}
	}
	slices.SortStableFunc(candidates, compareFEFO)

	remaining := req.Quantity
	allocs := make([]Allocation, 0, 2)
	for _, b := range candidates {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(b.Quantity, remaining)
		allocs = append(allocs, toAllocation(b, take))
		remaining = remaining.Sub(take)
	}
	return allocs, nil
}

func compareFEFO(x, y Batch) int {
	switch {
	case x.ExpiryDate == nil && y.ExpiryDate != nil:
		return 1
	case x.ExpiryDate != nil && y.ExpiryDate == nil:
		return -1
	case x.ExpiryDate != nil && y.ExpiryDate != nil:
		if c := DateOnly(*x.ExpiryDate).Compare(DateOnly(*y.ExpiryDate)); c != 0 {
			return c
		}
	}
	if c := y.Quantity.Cmp(x.Quantity); c != 0 {
		return c
	}
	switch {
	case x.ID < y.ID:
		return -1
	case x.ID > y.ID:
		return 1
	}
	return 0
}

func toAllocation(b Batch, qty decimal.Decimal) Allocation {
	return Allocation{
		BatchID:     b.ID,
		BatchNumber: b.BatchNumber,
		ProductID:   b.ProductID,
		WarehouseID: b.WarehouseID,
		Quantity:    qty,
		ExpiryDate:  b.ExpiryDate,
		UnitCost:    b.CostPerUnit,
	}
}
