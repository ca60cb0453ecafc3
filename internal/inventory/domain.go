package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementIn represents an inbound movement (receipt, return).
	MovementIn MovementType = "IN"
	// MovementOut represents consumption by fulfillment.
	MovementOut MovementType = "OUT"
	// MovementAdjust indicates manual corrections.
	MovementAdjust MovementType = "ADJUST"
)

// Policy selects how batches are chosen for an allocation.
type Policy string

const (
	// PolicyFEFO consumes the batches expiring first.
	PolicyFEFO Policy = "FEFO"
	// PolicyExplicitBatch consumes one named batch.
	PolicyExplicitBatch Policy = "EXPLICIT_BATCH"
)

// Batch is a quantity of one product in one warehouse sharing expiry and cost.
type Batch struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsExpired reports whether the batch expired before the given day.
func (b Batch) IsExpired(today time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return DateOnly(*b.ExpiryDate).Before(DateOnly(today))
}

// StockMovement is the append-only audit record of one ledger mutation.
type StockMovement struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	BatchID     int64           `json:"batch_id"`
	Type        MovementType    `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reference   string          `json:"reference"`
	Note        string          `json:"note"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Allocation maps part of a requested quantity onto one batch.
type Allocation struct {
	BatchID     int64           `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// AllocationRequest asks the allocator to cover a quantity.
type AllocationRequest struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	Policy      Policy
	// BatchID is required by PolicyExplicitBatch.
	BatchID int64
}

// ReceiveInput posts stock into a batch, creating it when missing.
type ReceiveInput struct {
	ProductID   int64
	WarehouseID int64
	BatchNumber string
	Quantity    decimal.Decimal
	ExpiryDate  *time.Time
	CostPerUnit decimal.Decimal
	Reference   string
	Note        string
}

// AdjustmentInput corrects a batch quantity by a signed delta.
type AdjustmentInput struct {
	BatchID   int64
	Delta     decimal.Decimal
	Reference string
	Note      string
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID      int64
	WarehouseID    int64
	IncludeEmpty   bool
	IncludeExpired bool
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	BatchID     int64
	Reference   string
	From        time.Time
	To          time.Time
	Limit       int
}

// DateOnly truncates a timestamp to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SumAllocations totals allocated quantity.
func SumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Quantity)
	}
	return total
}
