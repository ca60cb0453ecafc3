package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// ruleEntityPR selects approval rules that apply to purchase requests.
const ruleEntityPR = "purchase_request"

// CreatePurchaseRequest stores a DRAFT request with its total.
func (s *Service) CreatePurchaseRequest(ctx context.Context, in CreatePurchaseRequestInput) (PurchaseRequest, error) {
	if err := s.validate.Struct(in); err != nil {
		return PurchaseRequest{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	currency, err := shared.NormalizeCurrency(in.Currency)
	if err != nil {
		return PurchaseRequest{}, err
	}
	poLines, total, err := buildPOLines(in.Lines)
	if err != nil {
		return PurchaseRequest{}, err
	}
	pr := PurchaseRequest{
		Number:      generateNumber("PR"),
		RequestedBy: shared.ActorFromContext(ctx),
		SupplierID:  in.SupplierID,
		Currency:    currency,
		Status:      PRStatusDraft,
		TotalAmount: total,
		Note:        in.Note,
		CreatedAt:   s.ledger.Now(),
	}
	for _, l := range poLines {
		pr.Lines = append(pr.Lines, PRLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePR(ctx, pr)
		if err != nil {
			return fmt.Errorf("create purchase request: %w", err)
		}
		pr.ID = id
		for i := range pr.Lines {
			pr.Lines[i].PRID = id
			lineID, err := tx.InsertPRLine(ctx, pr.Lines[i])
			if err != nil {
				return fmt.Errorf("insert purchase request line: %w", err)
			}
			pr.Lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.logger.Info("purchase request created", slog.Int64("pr_id", pr.ID), slog.String("total", pr.TotalAmount.String()))
	s.recordAudit(ctx, "purchase_request:CREATE", entityPR, pr.ID, map[string]any{"number": pr.Number})
	return pr, nil
}

// SubmitPurchaseRequest instantiates one pending approval per distinct level
// of the active rules covering the request total. Without matching rules the
// request is approved outright.
func (s *Service) SubmitPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, []PRApproval, error) {
	var (
		pr        PurchaseRequest
		approvals []PRApproval
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetPRForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !pr.Status.CanTransition(PRStatusSubmitted) {
			return shared.InvalidTransition(entityPR, pr.Status, PRStatusSubmitted)
		}
		rules, err := tx.ListActiveRules(ctx, ruleEntityPR, pr.Currency)
		if err != nil {
			return err
		}
		for _, rule := range selectRules(rules, pr.TotalAmount) {
			approval := PRApproval{PRID: pr.ID, RuleID: rule.ID, Level: rule.Level, Status: ApprovalPending}
			approval.ID, err = tx.InsertPRApproval(ctx, approval)
			if err != nil {
				return fmt.Errorf("insert approval level %d: %w", rule.Level, err)
			}
			approvals = append(approvals, approval)
		}
		pr.Status = PRStatusSubmitted
		if len(approvals) == 0 {
			pr.Status = PRStatusApproved
		}
		return tx.UpdatePR(ctx, pr)
	})
	if err != nil {
		return PurchaseRequest{}, nil, fmt.Errorf("submit purchase request: %w", err)
	}
	s.afterTransition(ctx, entityPR, pr.ID, PRStatusDraft.String(), pr.Status.String(), map[string]any{"levels": len(approvals)})
	s.recordApproval(ctx, entityPR, pr.ID, shared.ActorFromContext(ctx), shared.ApprovalSubmit, pr.Number)
	if approvals == nil {
		approvals = []PRApproval{}
	}
	return pr, approvals, nil
}

// selectRules keeps, per level, the lowest-id active rule covering amount,
// ordered by level.
func selectRules(rules []ApprovalRule, amount decimal.Decimal) []ApprovalRule {
	byLevel := make(map[int]ApprovalRule)
	for _, rule := range rules {
		if !rule.IsActive || !rule.Covers(amount) {
			continue
		}
		if current, ok := byLevel[rule.Level]; !ok || rule.ID < current.ID {
			byLevel[rule.Level] = rule
		}
	}
	selected := make([]ApprovalRule, 0, len(byLevel))
	for _, rule := range byLevel {
		selected = append(selected, rule)
	}
	slices.SortFunc(selected, func(a, b ApprovalRule) int { return a.Level - b.Level })
	return selected
}

// ApproveLevel approves one pending level. Approving the last pending level
// approves the request.
func (s *Service) ApproveLevel(ctx context.Context, prID int64, level int, approverID int64) (PurchaseRequest, PRApproval, bool, error) {
	if approverID == 0 {
		approverID = shared.ActorFromContext(ctx)
	}
	if approverID == 0 {
		return PurchaseRequest{}, PRApproval{}, false, fmt.Errorf("%w: approver required", shared.ErrValidation)
	}
	var (
		pr       PurchaseRequest
		approval PRApproval
		complete bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, approval, err = s.lockLevel(ctx, tx, prID, level, ApprovalApproved)
		if err != nil {
			return err
		}
		now := s.ledger.Now()
		approval.Status = ApprovalApproved
		approval.ApproverID = &approverID
		approval.ActedAt = &now
		if err := tx.UpdatePRApproval(ctx, approval); err != nil {
			return err
		}
		approvals, err := tx.ListPRApprovalsForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		complete = true
		for _, a := range approvals {
			if a.ID != approval.ID && a.Status != ApprovalApproved {
				complete = false
				break
			}
		}
		if complete {
			pr.Status = PRStatusApproved
			return tx.UpdatePR(ctx, pr)
		}
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, PRApproval{}, false, fmt.Errorf("approve purchase request: %w", err)
	}
	s.logger.Info("purchase request level approved",
		slog.Int64("pr_id", prID), slog.Int("level", level), slog.Bool("fully_approved", complete))
	s.recordApproval(ctx, entityPR, prID, approverID, shared.ApprovalApprove, fmt.Sprintf("level %d", level))
	if complete {
		s.afterTransition(ctx, entityPR, pr.ID, PRStatusSubmitted.String(), pr.Status.String(), map[string]any{"level": level})
	}
	return pr, approval, complete, nil
}

// RejectLevel rejects one pending level, rejecting the whole request.
func (s *Service) RejectLevel(ctx context.Context, prID int64, level int, approverID int64, comments string) (PurchaseRequest, PRApproval, error) {
	if approverID == 0 {
		approverID = shared.ActorFromContext(ctx)
	}
	if approverID == 0 {
		return PurchaseRequest{}, PRApproval{}, fmt.Errorf("%w: approver required", shared.ErrValidation)
	}
	var (
		pr       PurchaseRequest
		approval PRApproval
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, approval, err = s.lockLevel(ctx, tx, prID, level, ApprovalRejected)
		if err != nil {
			return err
		}
		now := s.ledger.Now()
		approval.Status = ApprovalRejected
		approval.ApproverID = &approverID
		approval.ActedAt = &now
		approval.Comments = comments
		if err := tx.UpdatePRApproval(ctx, approval); err != nil {
			return err
		}
		pr.Status = PRStatusRejected
		return tx.UpdatePR(ctx, pr)
	})
	if err != nil {
		return PurchaseRequest{}, PRApproval{}, fmt.Errorf("reject purchase request: %w", err)
	}
	s.recordApproval(ctx, entityPR, prID, approverID, shared.ApprovalReject, comments)
	s.afterTransition(ctx, entityPR, pr.ID, PRStatusSubmitted.String(), pr.Status.String(), map[string]any{"level": level, "comments": comments})
	return pr, approval, nil
}

// lockLevel locks the request and returns its pending approval at level.
func (s *Service) lockLevel(ctx context.Context, tx TxRepository, prID int64, level int, to ApprovalStatus) (PurchaseRequest, PRApproval, error) {
	pr, err := tx.GetPRForUpdate(ctx, prID)
	if err != nil {
		return PurchaseRequest{}, PRApproval{}, err
	}
	target := PRStatusApproved
	if to == ApprovalRejected {
		target = PRStatusRejected
	}
	if pr.Status != PRStatusSubmitted {
		return PurchaseRequest{}, PRApproval{}, shared.InvalidTransition(entityPR, pr.Status, target)
	}
	approvals, err := tx.ListPRApprovalsForUpdate(ctx, prID)
	if err != nil {
		return PurchaseRequest{}, PRApproval{}, err
	}
	for _, a := range approvals {
		if a.Level != level {
			continue
		}
		if a.Status != ApprovalPending {
			return PurchaseRequest{}, PRApproval{}, &shared.StateTransitionError{
				Entity: "purchase_request_approval", From: a.Status.String(), To: to.String(),
			}
		}
		return pr, a, nil
	}
	return PurchaseRequest{}, PRApproval{}, fmt.Errorf("%w: level %d on purchase request %d", shared.ErrNotFound, level, prID)
}

// ConvertToPurchaseOrder copies an approved request into a DRAFT order
// stamped with the current exchange rate.
func (s *Service) ConvertToPurchaseOrder(ctx context.Context, prID int64, in ConvertPurchaseRequestInput) (PurchaseOrder, error) {
	if err := s.validate.Struct(in); err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	current, err := s.repo.GetPR(ctx, prID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if current.Status == PRStatusConverted {
		return PurchaseOrder{}, fmt.Errorf("%w: %s", shared.ErrAlreadyConverted, current.Number)
	}
	rate, err := s.exchangeRate(ctx, current.Currency)
	if err != nil {
		return PurchaseOrder{}, err
	}

	var (
		pr PurchaseRequest
		po PurchaseOrder
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status == PRStatusConverted {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyConverted, pr.Number)
		}
		if !pr.Status.CanTransition(PRStatusConverted) {
			return shared.InvalidTransition(entityPR, pr.Status, PRStatusConverted)
		}
		inputs := make([]LineInput, 0, len(pr.Lines))
		for _, l := range pr.Lines {
			inputs = append(inputs, LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
		}
		lines, total, err := buildPOLines(inputs)
		if err != nil {
			return err
		}
		prRef := pr.ID
		po = PurchaseOrder{
			Number:       generateNumber("PO"),
			SupplierID:   pr.SupplierID,
			PRID:         &prRef,
			Status:       POStatusDraft,
			Currency:     pr.Currency,
			ExchangeRate: rate,
			OrderDate:    defaultDate(in.OrderDate, s.ledger.Today()),
			ExpectedDate: in.ExpectedDate,
			TotalAmount:  total,
			Notes:        in.Notes,
			CreatedBy:    shared.ActorFromContext(ctx),
		}
		po.ID, err = tx.CreatePO(ctx, po)
		if err != nil {
			return fmt.Errorf("create purchase order: %w", err)
		}
		po.Lines, err = tx.ReplacePOLines(ctx, po.ID, lines)
		if err != nil {
			return err
		}
		poRef := po.ID
		pr.Status = PRStatusConverted
		pr.POID = &poRef
		return tx.UpdatePR(ctx, pr)
	})
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("convert purchase request: %w", err)
	}
	s.afterTransition(ctx, entityPR, pr.ID, PRStatusApproved.String(), pr.Status.String(),
		map[string]any{"po": po.Number, "exchange_rate": rate.String()})
	return po, nil
}

// GetPurchaseRequest retrieves a request with lines.
func (s *Service) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetPR(ctx, id)
}

// ListApprovals returns the approval levels of a request.
func (s *Service) ListApprovals(ctx context.Context, prID int64) ([]PRApproval, error) {
	return s.repo.ListPRApprovals(ctx, prID)
}

// RequestHistory returns the submit and decision trail of a purchase request.
func (s *Service) RequestHistory(ctx context.Context, prID int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.GetPR(ctx, prID); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	logs, err := s.approvals.History(ctx, entityPR, prID)
	if err != nil {
		return nil, fmt.Errorf("request history: %w", err)
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	return logs, nil
}
