package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
)

// ============================================================================
// SALES ORDER
// ============================================================================

// OrderStatus is the lifecycle state of a sales order.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:     {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

func (s OrderStatus) String() string { return string(s) }

// CanTransition reports whether the table allows s -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

type SalesOrder struct {
	ID           int64            `json:"id"`
	DocNumber    string           `json:"doc_number"`
	CustomerID   int64            `json:"customer_id"`
	WarehouseID  int64            `json:"warehouse_id"`
	Status       OrderStatus      `json:"status"`
	Currency     string           `json:"currency"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	DeliveryDate *time.Time       `json:"delivery_date,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	CreatedBy    int64            `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Items        []SalesOrderItem `json:"items"`
}

type SalesOrderItem struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	ProductID        int64           `json:"product_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
}

// ItemForProduct returns the first item selling productID.
func (o SalesOrder) ItemForProduct(productID int64) (SalesOrderItem, bool) {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return SalesOrderItem{}, false
}

// ============================================================================
// INVOICE
// ============================================================================

// InvoiceKind distinguishes invoices from credit notes.
type InvoiceKind string

const (
	InvoiceKindInvoice    InvoiceKind = "INVOICE"
	InvoiceKindCreditNote InvoiceKind = "CREDIT_NOTE"
)

// Invoice mirrors order totals. Credit notes carry negative amounts.
type Invoice struct {
	ID          int64           `json:"id"`
	DocNumber   string          `json:"doc_number"`
	OrderID     int64           `json:"order_id"`
	CustomerID  int64           `json:"customer_id"`
	Kind        InvoiceKind     `json:"kind"`
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	IssuedAt    time.Time       `json:"issued_at"`
	Lines       []InvoiceLine   `json:"lines"`
}

type InvoiceLine struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// ============================================================================
// REQUESTS
// ============================================================================

type CreateSalesOrderRequest struct {
	CustomerID   int64                     `json:"customer_id" validate:"required,gt=0"`
	WarehouseID  int64                     `json:"warehouse_id" validate:"required,gt=0"`
	Currency     string                    `json:"currency" validate:"required,len=3"`
	DeliveryDate *time.Time                `json:"delivery_date,omitempty"`
	Notes        string                    `json:"notes,omitempty" validate:"max=500"`
	Items        []CreateSalesOrderItemReq `json:"items" validate:"required,min=1,dive"`
}

type CreateSalesOrderItemReq struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type FulfillRequest struct {
	WarehouseID int64 `json:"warehouse_id" validate:"required,gt=0"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// ReturnLine is one product coming back from a delivered order.
type ReturnLine struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type ReturnRequest struct {
	WarehouseID int64        `json:"warehouse_id" validate:"required,gt=0"`
	Lines       []ReturnLine `json:"lines" validate:"required,min=1,dive"`
}

// ConfirmResult pairs a confirmed order with its planned allocations.
type ConfirmResult struct {
	Order       SalesOrder             `json:"order"`
	Allocations []inventory.Allocation `json:"allocations"`
}

// FulfillResult pairs a shipped order with the movements that consumed stock.
type FulfillResult struct {
	Order     SalesOrder                `json:"order"`
	Movements []inventory.StockMovement `json:"movements"`
}

// ReturnResult pairs the credit note with the restocking movements.
type ReturnResult struct {
	CreditNote Invoice                   `json:"credit_note"`
	Movements  []inventory.StockMovement `json:"movements"`
}
