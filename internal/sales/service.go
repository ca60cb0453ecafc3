package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const entityOrder = "sales_order"

// DefaultReturnShelfLife is applied to restocked returns when unset.
const DefaultReturnShelfLife = 365 * 24 * time.Hour

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (SalesOrder, error)
	ListInvoices(ctx context.Context, orderID int64) ([]Invoice, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	ReturnShelfLife time.Duration
	Observer        shared.TransitionObserver
}

// Service provides business logic for the sales order lifecycle.
type Service struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	audit    AuditPort
	observer shared.TransitionObserver
	logger   *slog.Logger
	validate *validator.Validate
	shelf    time.Duration
}

// NewService constructs a sales service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	shelf := cfg.ReturnShelfLife
	if shelf <= 0 {
		shelf = DefaultReturnShelfLife
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		audit:    audit,
		observer: cfg.Observer,
		logger:   logger,
		validate: validator.New(),
		shelf:    shelf,
	}
}

// ============================================================================
// ORDER LIFECYCLE
// ============================================================================

// CreateSalesOrder stores a DRAFT order with computed totals.
func (s *Service) CreateSalesOrder(ctx context.Context, req CreateSalesOrderRequest) (SalesOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return SalesOrder{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	currency, err := shared.NormalizeCurrency(req.Currency)
	if err != nil {
		return SalesOrder{}, err
	}
	order := SalesOrder{
		DocNumber:    generateNumber("SO"),
		CustomerID:   req.CustomerID,
		WarehouseID:  req.WarehouseID,
		Status:       OrderStatusDraft,
		Currency:     currency,
		DeliveryDate: req.DeliveryDate,
		Notes:        req.Notes,
		CreatedBy:    shared.ActorFromContext(ctx),
	}
	subtotal := decimal.Zero
	for i, itemReq := range req.Items {
		if !itemReq.Quantity.IsPositive() {
			return SalesOrder{}, fmt.Errorf("%w: item %d quantity must be positive", shared.ErrValidation, i+1)
		}
		if itemReq.UnitPrice.IsNegative() {
			return SalesOrder{}, fmt.Errorf("%w: item %d unit price cannot be negative", shared.ErrValidation, i+1)
		}
		item := SalesOrderItem{
			ProductID:        itemReq.ProductID,
			Quantity:         itemReq.Quantity,
			UnitPrice:        itemReq.UnitPrice,
			LineTotal:        CalculateLineTotal(itemReq.Quantity, itemReq.UnitPrice),
			ReturnedQuantity: decimal.Zero,
		}
		subtotal = subtotal.Add(item.LineTotal)
		order.Items = append(order.Items, item)
	}
	order.Subtotal = subtotal
	order.TotalAmount = subtotal

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("create sales order: %w", err)
		}
		order.ID = id
		for i := range order.Items {
			order.Items[i].OrderID = id
			itemID, err := tx.InsertOrderItem(ctx, order.Items[i])
			if err != nil {
				return fmt.Errorf("insert sales order item: %w", err)
			}
			order.Items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.logger.Info("sales order created", slog.Int64("order_id", order.ID), slog.String("number", order.DocNumber))
	return s.repo.GetOrder(ctx, order.ID)
}

// ConfirmSalesOrder plans FEFO allocations for every item. Nothing is
// committed unless every item can be fully covered, and no stock moves yet.
func (s *Service) ConfirmSalesOrder(ctx context.Context, id int64) (SalesOrder, []inventory.Allocation, error) {
	var (
		order  SalesOrder
		allocs []inventory.Allocation
		from   OrderStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = order.Status
		if !from.CanTransition(OrderStatusConfirmed) {
			return shared.InvalidTransition(entityOrder, from, OrderStatusConfirmed)
		}
		allocs, err = s.planOrder(ctx, s.ledger.NewAllocator(tx.Inventory()), order, order.WarehouseID)
		if err != nil {
			return err
		}
		order.Status = OrderStatusConfirmed
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return SalesOrder{}, nil, fmt.Errorf("confirm sales order: %w", err)
	}
	s.afterTransition(ctx, order, from, map[string]any{"allocations": len(allocs)})
	return order, allocs, nil
}

// FulfillSalesOrder re-runs allocation under batch row locks and consumes the
// stock. Any failure rolls back every movement of the order.
func (s *Service) FulfillSalesOrder(ctx context.Context, id, warehouseID int64) (SalesOrder, []inventory.StockMovement, error) {
	if warehouseID == 0 {
		return SalesOrder{}, nil, fmt.Errorf("%w: warehouse required", shared.ErrValidation)
	}
	var (
		order     SalesOrder
		movements []inventory.StockMovement
		from      OrderStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = order.Status
		if !from.CanTransition(OrderStatusShipped) {
			return shared.InvalidTransition(entityOrder, from, OrderStatusShipped)
		}
		invTx := tx.Inventory()
		allocs, err := s.planOrder(ctx, s.ledger.NewAllocator(invTx), order, warehouseID)
		if err != nil {
			return err
		}
		movements, err = s.ledger.Consume(ctx, invTx, allocs, order.DocNumber)
		if err != nil {
			return err
		}
		now := s.ledger.Now()
		order.WarehouseID = warehouseID
		order.DeliveryDate = &now
		order.Status = OrderStatusShipped
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return SalesOrder{}, nil, fmt.Errorf("fulfill sales order: %w", err)
	}
	s.afterTransition(ctx, order, from, map[string]any{"warehouse_id": warehouseID, "movements": len(movements)})
	return order, movements, nil
}

// GenerateInvoice issues the single invoice of a shipped order and marks it delivered.
func (s *Service) GenerateInvoice(ctx context.Context, id int64) (Invoice, error) {
	var (
		order   SalesOrder
		invoice Invoice
		from    OrderStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = order.Status
		if from != OrderStatusShipped && from != OrderStatusDelivered {
			return shared.InvalidTransition(entityOrder, from, OrderStatusDelivered)
		}
		invoiced, err := tx.HasInvoice(ctx, order.ID, InvoiceKindInvoice)
		if err != nil {
			return err
		}
		if invoiced {
			return shared.ErrAlreadyInvoiced
		}
		invoice = Invoice{
			DocNumber:   generateNumber("INV"),
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			Kind:        InvoiceKindInvoice,
			Currency:    order.Currency,
			Subtotal:    order.Subtotal,
			TotalAmount: order.TotalAmount,
			IssuedAt:    s.ledger.Now(),
		}
		for _, item := range order.Items {
			invoice.Lines = append(invoice.Lines, InvoiceLine{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				LineTotal: item.LineTotal,
			})
		}
		invoice.ID, err = tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		if from == OrderStatusShipped {
			order.Status = OrderStatusDelivered
			return tx.UpdateOrder(ctx, order)
		}
		return nil
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("generate invoice: %w", err)
	}
	if from != order.Status {
		s.afterTransition(ctx, order, from, map[string]any{"invoice": invoice.DocNumber})
	}
	return invoice, nil
}

// CancelSalesOrder marks a DRAFT or CONFIRMED order cancelled. Stock is not touched.
func (s *Service) CancelSalesOrder(ctx context.Context, id int64, reason string) (SalesOrder, error) {
	var (
		order SalesOrder
		from  OrderStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = order.Status
		if !from.CanTransition(OrderStatusCancelled) {
			return shared.InvalidTransition(entityOrder, from, OrderStatusCancelled)
		}
		order.Status = OrderStatusCancelled
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return SalesOrder{}, fmt.Errorf("cancel sales order: %w", err)
	}
	s.afterTransition(ctx, order, from, map[string]any{"reason": reason})
	return order, nil
}

// GetSalesOrder retrieves a sales order by ID.
func (s *Service) GetSalesOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListInvoices returns invoices and credit notes issued for an order.
func (s *Service) ListInvoices(ctx context.Context, orderID int64) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, orderID)
}

// planOrder allocates every item against warehouseID within one allocator
// session so items sharing a product never double count a batch.
func (s *Service) planOrder(ctx context.Context, allocator *inventory.Allocator, order SalesOrder, warehouseID int64) ([]inventory.Allocation, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", shared.ErrValidation)
	}
	var plan []inventory.Allocation
	for _, item := range order.Items {
		allocs, err := allocator.Allocate(ctx, inventory.AllocationRequest{
			ProductID:   item.ProductID,
			WarehouseID: warehouseID,
			Quantity:    item.Quantity,
			Policy:      inventory.PolicyFEFO,
		})
		if err != nil {
			return nil, fmt.Errorf("allocate product %d: %w", item.ProductID, err)
		}
		plan = append(plan, allocs...)
	}
	return plan, nil
}

func (s *Service) afterTransition(ctx context.Context, order SalesOrder, from OrderStatus, meta map[string]any) {
	s.logger.Info("sales order transitioned",
		slog.Int64("order_id", order.ID),
		slog.String("from", from.String()),
		slog.String("to", order.Status.String()))
	if s.observer != nil {
		s.observer.ObserveTransition(entityOrder, from.String(), order.Status.String())
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.TransitionAudit(ctx, entityOrder, order.ID, from.String(), order.Status.String(), meta)); err != nil {
			s.logger.Warn("audit sales order", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
