package inventory

import "github.com/shopspring/decimal"

// AllocationPreviewRequest is the body of POST /inventory/allocations/preview.
type AllocationPreviewRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	Policy      Policy          `json:"policy" validate:"omitempty,oneof=FEFO EXPLICIT_BATCH"`
	BatchID     int64           `json:"batch_id" validate:"required_if=Policy EXPLICIT_BATCH"`
}

// AdjustmentRequest is the body of POST /inventory/adjustments.
type AdjustmentRequest struct {
	BatchID   int64           `json:"batch_id" validate:"required,gt=0"`
	Delta     decimal.Decimal `json:"delta"`
	Reference string          `json:"reference" validate:"max=64"`
	Note      string          `json:"note" validate:"max=255"`
}

// AdjustmentResponse returns the corrected batch and its movement.
type AdjustmentResponse struct {
	Batch    Batch         `json:"batch"`
	Movement StockMovement `json:"movement"`
}
