package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// PURCHASE ORDER
// ============================================================================

// POStatus is the lifecycle state of a purchase order.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusSent      POStatus = "SENT"
	POStatusConfirmed POStatus = "CONFIRMED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:     {POStatusSent, POStatusCancelled},
	POStatusSent:      {POStatusConfirmed, POStatusCancelled},
	POStatusConfirmed: {POStatusReceived, POStatusCancelled},
	POStatusReceived:  {POStatusClosed, POStatusCancelled},
}

func (s POStatus) String() string { return string(s) }

// CanTransition reports whether the table allows s -> to.
func (s POStatus) CanTransition(to POStatus) bool {
	for _, next := range poTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s POStatus) IsTerminal() bool {
	return len(poTransitions[s]) == 0
}

// TermsFrozen reports whether supplier, order date and lines are locked.
func (s POStatus) TermsFrozen() bool {
	switch s {
	case POStatusConfirmed, POStatusReceived, POStatusClosed, POStatusCancelled:
		return true
	}
	return false
}

// Receivable reports whether goods may be received against the order.
func (s POStatus) Receivable() bool {
	return s == POStatusConfirmed || s == POStatusReceived
}

type PurchaseOrder struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	SupplierID   int64           `json:"supplier_id"`
	PRID         *int64          `json:"pr_id,omitempty"`
	Status       POStatus        `json:"status"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	OrderDate    time.Time       `json:"order_date"`
	ExpectedDate *time.Time      `json:"expected_date,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Notes        string          `json:"notes,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Lines        []POLine        `json:"lines"`
}

type POLine struct {
	ID        int64           `json:"id"`
	POID      int64           `json:"po_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// OrderedQuantity sums line quantities.
func (po PurchaseOrder) OrderedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range po.Lines {
		total = total.Add(l.Quantity)
	}
	return total
}

// PriceFor returns the unit price of the first line ordering productID.
func (po PurchaseOrder) PriceFor(productID int64) (decimal.Decimal, bool) {
	for _, l := range po.Lines {
		if l.ProductID == productID {
			return l.UnitPrice, true
		}
	}
	return decimal.Zero, false
}

// LineInput describes a requested or ordered product line.
type LineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreatePurchaseOrderInput creates a DRAFT purchase order. A zero exchange
// rate is filled from the FX provider.
type CreatePurchaseOrderInput struct {
	SupplierID   int64           `json:"supplier_id" validate:"required,gt=0"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	OrderDate    time.Time       `json:"order_date"`
	ExpectedDate *time.Time      `json:"expected_date"`
	Notes        string          `json:"notes" validate:"max=500"`
	Lines        []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

// PurchaseOrderUpdate carries optional changes. Nil fields are untouched.
type PurchaseOrderUpdate struct {
	Status       *POStatus    `json:"status"`
	SupplierID   *int64       `json:"supplier_id"`
	OrderDate    *time.Time   `json:"order_date"`
	ExpectedDate *time.Time   `json:"expected_date"`
	Notes        *string      `json:"notes"`
	Lines        *[]LineInput `json:"lines"`
	Reason       string       `json:"reason"`
}

// ============================================================================
// GOODS RECEIPT
// ============================================================================

// GRStatus is the posting state of a goods receipt.
type GRStatus string

const (
	GRStatusDraft  GRStatus = "DRAFT"
	GRStatusPosted GRStatus = "POSTED"
)

func (s GRStatus) String() string { return string(s) }

type GoodsReceipt struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	POID        int64      `json:"po_id"`
	WarehouseID int64      `json:"warehouse_id"`
	Status      GRStatus   `json:"status"`
	ReceivedAt  time.Time  `json:"received_at"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Lines       []GRLine   `json:"lines"`
}

type GRLine struct {
	ID          int64           `json:"id"`
	GRID        int64           `json:"gr_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// ReceivedQuantity sums line quantities.
func (gr GoodsReceipt) ReceivedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range gr.Lines {
		total = total.Add(l.Quantity)
	}
	return total
}

type GRLineInput struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	BatchNumber string          `json:"batch_number" validate:"max=64"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type CreateGoodsReceiptInput struct {
	POID        int64         `json:"po_id" validate:"required,gt=0"`
	WarehouseID int64         `json:"warehouse_id" validate:"required,gt=0"`
	ReceivedAt  time.Time     `json:"received_at"`
	Notes       string        `json:"notes" validate:"max=500"`
	Lines       []GRLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ============================================================================
// VENDOR BILL & THREE-WAY MATCH
// ============================================================================

// BillStatus is the state of a vendor bill.
type BillStatus string

const (
	BillStatusDraft  BillStatus = "DRAFT"
	BillStatusPosted BillStatus = "POSTED"
	BillStatusVoid   BillStatus = "VOID"
)

func (s BillStatus) String() string { return string(s) }

type VendorBill struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	POID        *int64          `json:"po_id,omitempty"`
	SupplierID  int64           `json:"supplier_id"`
	Currency    string          `json:"currency"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      BillStatus      `json:"status"`
	BillDate    time.Time       `json:"bill_date"`
}

type CreateVendorBillInput struct {
	Number      string          `json:"number" validate:"max=64"`
	POID        *int64          `json:"po_id"`
	SupplierID  int64           `json:"supplier_id"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      BillStatus      `json:"status" validate:"omitempty,oneof=DRAFT POSTED"`
	BillDate    time.Time       `json:"bill_date"`
}

// MatchStatus is the outcome of a three-way match evaluation.
type MatchStatus string

const (
	MatchPending          MatchStatus = "PENDING"
	MatchMatched          MatchStatus = "MATCHED"
	MatchQuantityMismatch MatchStatus = "QUANTITY_MISMATCH"
	MatchPriceMismatch    MatchStatus = "PRICE_MISMATCH"
	MatchMissingReceipt   MatchStatus = "MISSING_RECEIPT"
	MatchMissingBill      MatchStatus = "MISSING_BILL"
)

func (s MatchStatus) String() string { return string(s) }

// IsException reports whether the outcome needs attention.
func (s MatchStatus) IsException() bool {
	return s == MatchQuantityMismatch || s == MatchPriceMismatch
}

type MatchResult struct {
	ID               int64           `json:"id"`
	POID             int64           `json:"po_id"`
	GRID             *int64          `json:"gr_id,omitempty"`
	BillID           *int64          `json:"bill_id,omitempty"`
	Status           MatchStatus     `json:"status"`
	QuantityVariance decimal.Decimal `json:"quantity_variance"`
	PriceVariance    decimal.Decimal `json:"price_variance"`
	ResolvedBy       *int64          `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`
	EvaluatedAt      time.Time       `json:"evaluated_at"`
}

// Resolved reports whether an operator forced the result.
func (m MatchResult) Resolved() bool {
	return m.ResolvedAt != nil
}

// sameOutcome compares the evaluated fields, ignoring identity and timestamps.
func (m MatchResult) sameOutcome(o MatchResult) bool {
	return m.Status == o.Status &&
		m.QuantityVariance.Equal(o.QuantityVariance) &&
		m.PriceVariance.Equal(o.PriceVariance) &&
		equalID(m.GRID, o.GRID) &&
		equalID(m.BillID, o.BillID)
}

func equalID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ============================================================================
// PURCHASE REQUEST & APPROVALS
// ============================================================================

// PRStatus is the lifecycle state of a purchase request.
type PRStatus string

const (
	PRStatusDraft     PRStatus = "DRAFT"
	PRStatusSubmitted PRStatus = "SUBMITTED"
	PRStatusApproved  PRStatus = "APPROVED"
	PRStatusRejected  PRStatus = "REJECTED"
	PRStatusConverted PRStatus = "CONVERTED"
)

var prTransitions = map[PRStatus][]PRStatus{
	PRStatusDraft:     {PRStatusSubmitted, PRStatusApproved},
	PRStatusSubmitted: {PRStatusApproved, PRStatusRejected},
	PRStatusApproved:  {PRStatusConverted},
}

func (s PRStatus) String() string { return string(s) }

// CanTransition reports whether the table allows s -> to.
func (s PRStatus) CanTransition(to PRStatus) bool {
	for _, next := range prTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type PurchaseRequest struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	RequestedBy int64           `json:"requested_by"`
	SupplierID  int64           `json:"supplier_id"`
	Currency    string          `json:"currency"`
	Status      PRStatus        `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	POID        *int64          `json:"po_id,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Lines       []PRLine        `json:"lines"`
}

type PRLine struct {
	ID        int64           `json:"id"`
	PRID      int64           `json:"pr_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreatePurchaseRequestInput struct {
	SupplierID int64       `json:"supplier_id" validate:"required,gt=0"`
	Currency   string      `json:"currency" validate:"required,len=3"`
	Note       string      `json:"note" validate:"max=500"`
	Lines      []LineInput `json:"lines" validate:"required,min=1,dive"`
}

type ConvertPurchaseRequestInput struct {
	OrderDate    time.Time  `json:"order_date"`
	ExpectedDate *time.Time `json:"expected_date"`
	Notes        string     `json:"notes" validate:"max=500"`
}

// ApprovalRule selects approval levels for documents by currency and amount.
// Nil bounds are open.
type ApprovalRule struct {
	ID             int64            `json:"id"`
	EntityType     string           `json:"entity_type"`
	Currency       string           `json:"currency"`
	AmountRangeMin *decimal.Decimal `json:"amount_range_min,omitempty"`
	AmountRangeMax *decimal.Decimal `json:"amount_range_max,omitempty"`
	Level          int              `json:"level"`
	ApproverRole   string           `json:"approver_role"`
	IsActive       bool             `json:"is_active"`
}

// Covers reports whether amount falls in [min, max].
func (r ApprovalRule) Covers(amount decimal.Decimal) bool {
	if r.AmountRangeMin != nil && amount.LessThan(*r.AmountRangeMin) {
		return false
	}
	if r.AmountRangeMax != nil && amount.GreaterThan(*r.AmountRangeMax) {
		return false
	}
	return true
}

// ApprovalStatus is the state of a single approval level.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

func (s ApprovalStatus) String() string { return string(s) }

type PRApproval struct {
	ID         int64          `json:"id"`
	PRID       int64          `json:"pr_id"`
	RuleID     int64          `json:"rule_id"`
	Level      int            `json:"level"`
	Status     ApprovalStatus `json:"status"`
	ApproverID *int64         `json:"approver_id,omitempty"`
	ActedAt    *time.Time     `json:"acted_at,omitempty"`
	Comments   string         `json:"comments,omitempty"`
}

// ApproveResult is returned by ApproveLevel.
type ApproveResult struct {
	Request       PurchaseRequest `json:"request"`
	Approval      PRApproval      `json:"approval"`
	FullyApproved bool            `json:"fully_approved"`
}

// SubmitResult is returned by SubmitPurchaseRequest.
type SubmitResult struct {
	Request   PurchaseRequest `json:"request"`
	Approvals []PRApproval    `json:"approvals"`
}
