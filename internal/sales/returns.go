package sales

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// ProcessReturn restocks returned goods of a delivered order into fresh
// batches and issues a credit note with negative amounts.
func (s *Service) ProcessReturn(ctx context.Context, id int64, lines []ReturnLine, warehouseID int64) (Invoice, []inventory.StockMovement, error) {
	if warehouseID == 0 {
		return Invoice{}, nil, fmt.Errorf("%w: warehouse required", shared.ErrValidation)
	}
	if len(lines) == 0 {
		return Invoice{}, nil, fmt.Errorf("%w: return lines required", shared.ErrValidation)
	}
	for i, line := range lines {
		if line.ProductID == 0 || !line.Quantity.IsPositive() {
			return Invoice{}, nil, fmt.Errorf("%w: return line %d needs product and positive quantity", shared.ErrValidation, i+1)
		}
	}

	var (
		order     SalesOrder
		credit    Invoice
		movements []inventory.StockMovement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusDelivered {
			return &shared.StateTransitionError{Entity: entityOrder, From: order.Status.String(), To: "RETURN"}
		}
		invTx := tx.Inventory()
		prior, err := tx.CountInvoices(ctx, order.ID, InvoiceKindCreditNote)
		if err != nil {
			return err
		}
		trail, err := invTx.ListMovementsByReference(ctx, order.DocNumber)
		if err != nil {
			return err
		}

		credit = Invoice{
			DocNumber:  generateNumber("CN"),
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Kind:       InvoiceKindCreditNote,
			Currency:   order.Currency,
			IssuedAt:   s.ledger.Now(),
		}
		expiry := s.ledger.Today().Add(s.shelf)
		returned := make(map[int64]decimal.Decimal)
		subtotal := decimal.Zero
		for _, line := range lines {
			item, ok := order.ItemForProduct(line.ProductID)
			if !ok {
				return fmt.Errorf("%w: product %d is not on order %s", shared.ErrValidation, line.ProductID, order.DocNumber)
			}
			already, seen := returned[item.ID]
			if !seen {
				already = item.ReturnedQuantity
			}
			remaining := item.Quantity.Sub(already)
			if line.Quantity.GreaterThan(remaining) {
				return fmt.Errorf("%w: return of %s for product %d exceeds returnable %s",
					shared.ErrValidation, line.Quantity, line.ProductID, remaining)
			}
			returned[item.ID] = already.Add(line.Quantity)

			_, mv, err := s.ledger.Receive(ctx, invTx, inventory.ReceiveInput{
				ProductID:   line.ProductID,
				WarehouseID: warehouseID,
				BatchNumber: fmt.Sprintf("RET-%s-%d-%d", order.DocNumber, line.ProductID, prior+1),
				Quantity:    line.Quantity,
				ExpiryDate:  &expiry,
				CostPerUnit: shippedCost(trail, line.ProductID),
				Reference:   order.DocNumber,
				Note:        fmt.Sprintf("return credited by %s", credit.DocNumber),
			})
			if err != nil {
				return err
			}
			movements = append(movements, mv)

			lineTotal := CalculateLineTotal(line.Quantity, item.UnitPrice).Neg()
			credit.Lines = append(credit.Lines, InvoiceLine{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: item.UnitPrice,
				LineTotal: lineTotal,
			})
			subtotal = subtotal.Add(lineTotal)
		}
		credit.Subtotal = subtotal
		credit.TotalAmount = subtotal

		for itemID, qty := range returned {
			if err := tx.UpdateItemReturned(ctx, itemID, qty); err != nil {
				return err
			}
		}
		credit.ID, err = tx.InsertInvoice(ctx, credit)
		if err != nil {
			return fmt.Errorf("insert credit note: %w", err)
		}
		return nil
	})
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("process return: %w", err)
	}

	s.logger.Info("sales return processed",
		slog.Int64("order_id", order.ID),
		slog.String("credit_note", credit.DocNumber),
		slog.String("amount", credit.TotalAmount.String()))
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   "sales_order:RETURN",
			Entity:   entityOrder,
			EntityID: fmt.Sprintf("%d", order.ID),
			Meta: map[string]any{
				"credit_note":  credit.DocNumber,
				"warehouse_id": warehouseID,
				"lines":        len(lines),
			},
		})
		if err != nil {
			s.logger.Warn("audit sales return", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
	return credit, movements, nil
}

// shippedCost derives the cost of returned units from the OUT movements that
// shipped the product.
func shippedCost(trail []inventory.StockMovement, productID int64) decimal.Decimal {
	var qty, cost []decimal.Decimal
	for _, mv := range trail {
		if mv.Type != inventory.MovementOut || mv.ProductID != productID {
			continue
		}
		qty = append(qty, mv.Quantity)
		cost = append(cost, mv.UnitCost)
	}
	return weightedUnitCost(qty, cost)
}
