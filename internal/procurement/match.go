package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const approvalModuleMatch = "three_way_match"

// CreateVendorBill stores a supplier bill and schedules matching for its order.
func (s *Service) CreateVendorBill(ctx context.Context, in CreateVendorBillInput) (VendorBill, error) {
	if err := s.validate.Struct(in); err != nil {
		return VendorBill{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if in.TotalAmount.IsNegative() {
		return VendorBill{}, fmt.Errorf("%w: bill total cannot be negative", shared.ErrValidation)
	}
	bill := VendorBill{
		Number:      strings.TrimSpace(in.Number),
		POID:        in.POID,
		SupplierID:  in.SupplierID,
		Currency:    in.Currency,
		TotalAmount: in.TotalAmount,
		Status:      in.Status,
		BillDate:    defaultDate(in.BillDate, s.ledger.Today()),
	}
	if bill.Number == "" {
		bill.Number = generateNumber("VB")
	}
	if bill.Status == "" {
		bill.Status = BillStatusPosted
	}
	var poCurrency string
	if in.POID != nil {
		po, err := s.repo.GetPO(ctx, *in.POID)
		if err != nil {
			return VendorBill{}, err
		}
		switch {
		case bill.SupplierID == 0:
			bill.SupplierID = po.SupplierID
		case bill.SupplierID != po.SupplierID:
			return VendorBill{}, fmt.Errorf("%w: bill supplier %d does not match %s", shared.ErrValidation, bill.SupplierID, po.Number)
		}
		if bill.Currency == "" {
			bill.Currency = po.Currency
		}
		poCurrency = po.Currency
	}
	if bill.SupplierID == 0 {
		return VendorBill{}, fmt.Errorf("%w: supplier required", shared.ErrValidation)
	}
	currency, err := shared.NormalizeCurrency(bill.Currency)
	if err != nil {
		return VendorBill{}, err
	}
	bill.Currency = currency
	// Match variances compare bill and order totals without conversion.
	if poCurrency != "" && !strings.EqualFold(poCurrency, currency) {
		return VendorBill{}, fmt.Errorf("%w: bill currency %s differs from order currency %s", shared.ErrValidation, currency, poCurrency)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateVendorBill(ctx, bill)
		if err != nil {
			return fmt.Errorf("create vendor bill: %w", err)
		}
		bill.ID = id
		return nil
	})
	if err != nil {
		return VendorBill{}, err
	}
	s.logger.Info("vendor bill recorded", slog.Int64("bill_id", bill.ID), slog.String("total", bill.TotalAmount.String()))
	s.recordAudit(ctx, "vendor_bill:CREATE", entityBill, bill.ID, map[string]any{"number": bill.Number, "total": bill.TotalAmount.String()})
	if s.integration != nil {
		evt := VendorBillRecordedEvent{
			ID:         bill.ID,
			Number:     bill.Number,
			POID:       bill.POID,
			SupplierID: bill.SupplierID,
			Total:      bill.TotalAmount,
			RecordedAt: s.ledger.Now(),
		}
		if err := s.integration.HandleVendorBillRecorded(ctx, evt); err != nil {
			s.logger.Warn("vendor bill integration", slog.Int64("bill_id", bill.ID), slog.Any("error", err))
		}
	}
	return bill, nil
}

// VoidVendorBill excludes a bill from future matching.
func (s *Service) VoidVendorBill(ctx context.Context, id int64) (VendorBill, error) {
	var bill VendorBill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetVendorBillForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if bill.Status == BillStatusVoid {
			return shared.InvalidTransition(entityBill, bill.Status, BillStatusVoid)
		}
		from := bill.Status
		bill.Status = BillStatusVoid
		if err := tx.UpdateVendorBill(ctx, bill); err != nil {
			return err
		}
		s.logger.Debug("vendor bill voided", slog.Int64("bill_id", id), slog.String("from", from.String()))
		return nil
	})
	if err != nil {
		return VendorBill{}, fmt.Errorf("void vendor bill: %w", err)
	}
	s.recordAudit(ctx, "vendor_bill:VOID", entityBill, bill.ID, map[string]any{"number": bill.Number})
	return bill, nil
}

// PerformThreeWayMatch evaluates ordered, received and billed figures for a
// purchase order and upserts the single match record. It is safe to retry:
// unchanged inputs leave the stored record untouched and operator
// resolutions are never re-evaluated.
func (s *Service) PerformThreeWayMatch(ctx context.Context, poID int64) (MatchResult, error) {
	var (
		result  MatchResult
		from    MatchStatus
		changed bool
		po      PurchaseOrder
		poFrom  POStatus
		poPath  []POStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		poFrom = po.Status
		existing, err := tx.GetMatchByPOForUpdate(ctx, poID)
		found := err == nil
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if found && existing.Resolved() {
			result = existing
			poPath, err = s.closeIfMatched(ctx, tx, &po, result)
			return err
		}

		receipts, err := tx.ListPostedReceipts(ctx, poID)
		if err != nil {
			return err
		}
		bills, err := tx.ListActiveBills(ctx, poID)
		if err != nil {
			return err
		}
		next := EvaluateMatch(po, receipts, bills, s.tolerances.Resolve(po.SupplierID, po.Currency))
		next.POID = poID
		if found && existing.sameOutcome(next) {
			result = existing
			poPath, err = s.closeIfMatched(ctx, tx, &po, result)
			return err
		}

		from = MatchPending
		if found {
			from = existing.Status
			next.ID = existing.ID
		}
		next.EvaluatedAt = s.ledger.Now()
		next.ID, err = tx.SaveMatch(ctx, next)
		if err != nil {
			return fmt.Errorf("save match result: %w", err)
		}
		result = next
		changed = true
		poPath, err = s.closeIfMatched(ctx, tx, &po, result)
		return err
	})
	if err != nil {
		return MatchResult{}, fmt.Errorf("three-way match: %w", err)
	}
	if changed {
		s.logger.Info("three-way match evaluated",
			slog.Int64("po_id", poID),
			slog.String("status", result.Status.String()),
			slog.String("quantity_variance", result.QuantityVariance.String()),
			slog.String("price_variance", result.PriceVariance.String()))
		if s.observer != nil {
			s.observer.ObserveTransition(entityMatch, from.String(), result.Status.String())
		}
	}
	s.afterPOPath(ctx, po, poFrom, poPath, result.ID)
	return result, nil
}

// closeIfMatched closes the order once its match holds and reports the
// statuses it passed through. A confirmed order whose receipts fall short
// within tolerance is marked received first.
func (s *Service) closeIfMatched(ctx context.Context, tx TxRepository, po *PurchaseOrder, result MatchResult) ([]POStatus, error) {
	if result.Status != MatchMatched {
		return nil, nil
	}
	var path []POStatus
	if po.Status == POStatusConfirmed && result.GRID != nil {
		po.Status = POStatusReceived
		path = append(path, po.Status)
	}
	if po.Status != POStatusReceived {
		return nil, nil
	}
	po.Status = POStatusClosed
	path = append(path, po.Status)
	if err := tx.UpdatePO(ctx, *po); err != nil {
		return nil, err
	}
	return path, nil
}

// afterPOPath emits one transition per status an order moved through.
func (s *Service) afterPOPath(ctx context.Context, po PurchaseOrder, from POStatus, path []POStatus, matchID int64) {
	for _, next := range path {
		s.afterTransition(ctx, entityPO, po.ID, from.String(), next.String(), map[string]any{"number": po.Number, "match": matchID})
		from = next
	}
}

// ResolveException forces a mismatched result to MATCHED on an operator's
// authority and closes a received order.
func (s *Service) ResolveException(ctx context.Context, matchID, resolverID int64, notes string) (MatchResult, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return MatchResult{}, fmt.Errorf("%w: resolution notes required", shared.ErrValidation)
	}
	if resolverID == 0 {
		resolverID = shared.ActorFromContext(ctx)
	}
	if resolverID == 0 {
		return MatchResult{}, fmt.Errorf("%w: resolver required", shared.ErrValidation)
	}

	var (
		result MatchResult
		from   MatchStatus
		po     PurchaseOrder
		poFrom POStatus
		poPath []POStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = tx.GetMatchForUpdate(ctx, matchID)
		if err != nil {
			return err
		}
		if result.Status == MatchMatched {
			return shared.InvalidTransition(entityMatch, result.Status, MatchMatched)
		}
		po, err = tx.GetPOForUpdate(ctx, result.POID)
		if err != nil {
			return err
		}
		poFrom = po.Status

		now := s.ledger.Now()
		from = result.Status
		result.Status = MatchMatched
		result.ResolvedBy = &resolverID
		result.ResolvedAt = &now
		result.ResolutionNotes = notes
		if _, err := tx.SaveMatch(ctx, result); err != nil {
			return fmt.Errorf("save match result: %w", err)
		}
		poPath, err = s.closeIfMatched(ctx, tx, &po, result)
		return err
	})
	if err != nil {
		return MatchResult{}, fmt.Errorf("resolve match exception: %w", err)
	}

	s.afterTransition(ctx, entityMatch, result.ID, from.String(), result.Status.String(),
		map[string]any{"po_id": result.POID, "resolved_by": resolverID, "notes": notes})
	s.recordApproval(ctx, approvalModuleMatch, result.ID, resolverID, shared.ApprovalOverride, notes)
	s.afterPOPath(ctx, po, poFrom, poPath, result.ID)
	return result, nil
}

// GetMatch returns the match record for a purchase order.
func (s *Service) GetMatch(ctx context.Context, poID int64) (MatchResult, error) {
	return s.repo.GetMatchByPO(ctx, poID)
}

// PendingMatches lists purchase orders whose match is missing or still open.
func (s *Service) PendingMatches(ctx context.Context, limit int) ([]int64, error) {
	return s.repo.ListMatchCandidates(ctx, limit)
}

// EvaluateMatch computes a match outcome from posted receipts and active
// bills. Variances are only reported when both sides exist.
func EvaluateMatch(po PurchaseOrder, receipts []GoodsReceipt, bills []VendorBill, tol Tolerance) MatchResult {
	result := MatchResult{
		POID:             po.ID,
		QuantityVariance: decimal.Zero,
		PriceVariance:    decimal.Zero,
	}
	received := decimal.Zero
	for _, gr := range receipts {
		received = received.Add(gr.ReceivedQuantity())
		if result.GRID == nil || gr.ID > *result.GRID {
			id := gr.ID
			result.GRID = &id
		}
	}
	billed := decimal.Zero
	for _, bill := range bills {
		billed = billed.Add(bill.TotalAmount)
		if result.BillID == nil || bill.ID > *result.BillID {
			id := bill.ID
			result.BillID = &id
		}
	}

	switch {
	case len(receipts) == 0 && len(bills) == 0:
		result.Status = MatchPending
		return result
	case len(bills) == 0:
		result.Status = MatchMissingBill
		return result
	case len(receipts) == 0:
		result.Status = MatchMissingReceipt
		return result
	}

	ordered := po.OrderedQuantity()
	result.QuantityVariance = ordered.Sub(received).Abs()
	result.PriceVariance = po.TotalAmount.Sub(billed).Abs()
	switch {
	case result.QuantityVariance.GreaterThan(tol.QuantityLimit(ordered)):
		result.Status = MatchQuantityMismatch
	case result.PriceVariance.GreaterThan(tol.PriceLimit(po.TotalAmount)):
		result.Status = MatchPriceMismatch
	default:
		result.Status = MatchMatched
	}
	return result
}
