package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const idempotencyModuleReceipt = "procurement.goods_receipt"

// CreateGoodsReceipt stores a DRAFT receipt against a sent or confirmed order.
func (s *Service) CreateGoodsReceipt(ctx context.Context, in CreateGoodsReceiptInput) (GoodsReceipt, error) {
	if err := s.validate.Struct(in); err != nil {
		return GoodsReceipt{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	for i, line := range in.Lines {
		if !line.Quantity.IsPositive() {
			return GoodsReceipt{}, fmt.Errorf("%w: line %d quantity must be positive", shared.ErrValidation, i+1)
		}
		if line.UnitCost.IsNegative() {
			return GoodsReceipt{}, fmt.Errorf("%w: line %d unit cost cannot be negative", shared.ErrValidation, i+1)
		}
	}
	po, err := s.repo.GetPO(ctx, in.POID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if po.Status != POStatusSent && !po.Status.Receivable() {
		return GoodsReceipt{}, shared.InvalidTransition(entityPO, po.Status, POStatusReceived)
	}

	gr := GoodsReceipt{
		Number:      generateNumber("GR"),
		POID:        po.ID,
		WarehouseID: in.WarehouseID,
		Status:      GRStatusDraft,
		ReceivedAt:  in.ReceivedAt,
		Notes:       in.Notes,
	}
	if gr.ReceivedAt.IsZero() {
		gr.ReceivedAt = s.ledger.Now()
	}
	for _, line := range in.Lines {
		batch := strings.TrimSpace(line.BatchNumber)
		if batch == "" {
			batch = fmt.Sprintf("%s-%d", gr.Number, line.ProductID)
		}
		gr.Lines = append(gr.Lines, GRLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			BatchNumber: batch,
			ExpiryDate:  line.ExpiryDate,
			UnitCost:    line.UnitCost,
		})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateGoodsReceipt(ctx, gr)
		if err != nil {
			return fmt.Errorf("create goods receipt: %w", err)
		}
		gr.ID = id
		for i := range gr.Lines {
			gr.Lines[i].GRID = id
			lineID, err := tx.InsertGoodsReceiptLine(ctx, gr.Lines[i])
			if err != nil {
				return fmt.Errorf("insert goods receipt line: %w", err)
			}
			gr.Lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.logger.Info("goods receipt created", slog.Int64("gr_id", gr.ID), slog.Int64("po_id", po.ID))
	s.recordAudit(ctx, "goods_receipt:CREATE", entityReceipt, gr.ID, map[string]any{"number": gr.Number, "po": po.Number})
	return gr, nil
}

// PostGoodsReceipt books received lines into the batch ledger exactly once.
// The order moves to RECEIVED when posted receipts cover every ordered unit.
func (s *Service) PostGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, err := s.repo.GetGoodsReceipt(ctx, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if gr.Status == GRStatusPosted {
		return GoodsReceipt{}, fmt.Errorf("%w: %s", shared.ErrAlreadyPosted, gr.Number)
	}
	var (
		po      PurchaseOrder
		poFrom  POStatus
		batches []GRLineEvent
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.GetGoodsReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status == GRStatusPosted {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyPosted, gr.Number)
		}
		if err := tx.ClaimPostingKey(ctx, idempotencyModuleReceipt, gr.Number); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("%w: %s", shared.ErrAlreadyPosted, gr.Number)
			}
			return err
		}
		po, err = tx.GetPOForUpdate(ctx, gr.POID)
		if err != nil {
			return err
		}
		poFrom = po.Status
		if !po.Status.Receivable() {
			return shared.InvalidTransition(entityPO, po.Status, POStatusReceived)
		}
		today := s.ledger.Today()
		for _, line := range gr.Lines {
			if line.ExpiryDate != nil && !inventory.DateOnly(*line.ExpiryDate).After(today) {
				return fmt.Errorf("%w: product %d batch %s expires %s", shared.ErrExpiredOnReceipt,
					line.ProductID, line.BatchNumber, line.ExpiryDate.Format("2006-01-02"))
			}
		}

		invTx := tx.Inventory()
		for _, line := range gr.Lines {
			cost := line.UnitCost
			if price, ok := po.PriceFor(line.ProductID); ok {
				cost = price
			}
			batch, _, err := s.ledger.Receive(ctx, invTx, inventory.ReceiveInput{
				ProductID:   line.ProductID,
				WarehouseID: gr.WarehouseID,
				BatchNumber: line.BatchNumber,
				Quantity:    line.Quantity,
				ExpiryDate:  line.ExpiryDate,
				CostPerUnit: cost,
				Reference:   gr.Number,
				Note:        fmt.Sprintf("received against %s", po.Number),
			})
			if err != nil {
				return fmt.Errorf("receive product %d: %w", line.ProductID, err)
			}
			batches = append(batches, GRLineEvent{ProductID: line.ProductID, BatchID: batch.ID, Quantity: line.Quantity, UnitCost: cost})
		}

		now := s.ledger.Now()
		gr.Status = GRStatusPosted
		gr.PostedAt = &now
		if err := tx.UpdateGoodsReceipt(ctx, gr); err != nil {
			return err
		}

		received, err := tx.SumReceived(ctx, po.ID)
		if err != nil {
			return err
		}
		if po.Status == POStatusConfirmed && received.GreaterThanOrEqual(po.OrderedQuantity()) {
			po.Status = POStatusReceived
			return tx.UpdatePO(ctx, po)
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, fmt.Errorf("post goods receipt: %w", err)
	}

	s.afterTransition(ctx, entityReceipt, gr.ID, GRStatusDraft.String(), gr.Status.String(),
		map[string]any{"number": gr.Number, "po": po.Number, "lines": len(gr.Lines)})
	if poFrom != po.Status {
		s.afterTransition(ctx, entityPO, po.ID, poFrom.String(), po.Status.String(), map[string]any{"number": po.Number, "receipt": gr.Number})
	}
	if s.integration != nil {
		evt := GoodsReceiptPostedEvent{
			ID:          gr.ID,
			Number:      gr.Number,
			POID:        po.ID,
			WarehouseID: gr.WarehouseID,
			PostedAt:    *gr.PostedAt,
			Lines:       batches,
		}
		if err := s.integration.HandleGoodsReceiptPosted(ctx, evt); err != nil {
			s.logger.Warn("goods receipt integration", slog.Int64("gr_id", gr.ID), slog.Any("error", err))
		}
	}
	return gr, nil
}

// GetGoodsReceipt retrieves a receipt with lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGoodsReceipt(ctx, id)
}
