package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentPostedEvent is emitted after a manual batch correction commits.
type AdjustmentPostedEvent struct {
	Reference   string
	BatchID     int64
	WarehouseID int64
	ProductID   int64
	Delta       decimal.Decimal
	UnitCost    decimal.Decimal
	PostedAt    time.Time
}

// IntegrationHandler is notified of committed adjustments. Metrics implement it
// to count corrections by direction.
type IntegrationHandler interface {
	HandleInventoryAdjustmentPosted(ctx context.Context, evt AdjustmentPostedEvent) error
}
