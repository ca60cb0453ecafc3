package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GRLineEvent describes a received line.
type GRLineEvent struct {
	ProductID int64
	BatchID   int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
}

// GoodsReceiptPostedEvent is emitted after a receipt posting commits.
type GoodsReceiptPostedEvent struct {
	ID          int64
	Number      string
	POID        int64
	WarehouseID int64
	PostedAt    time.Time
	Lines       []GRLineEvent
}

// VendorBillRecordedEvent is emitted after a bill is stored.
type VendorBillRecordedEvent struct {
	ID         int64
	Number     string
	POID       *int64
	SupplierID int64
	Total      decimal.Decimal
	RecordedAt time.Time
}

// IntegrationHandler receives procurement events after commit. The match
// worker implements it to schedule three-way matching.
type IntegrationHandler interface {
	HandleGoodsReceiptPosted(ctx context.Context, evt GoodsReceiptPostedEvent) error
	HandleVendorBillRecorded(ctx context.Context, evt VendorBillRecordedEvent) error
}
