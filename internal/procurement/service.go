package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const (
	entityPO      = "purchase_order"
	entityPR      = "purchase_request"
	entityReceipt = "goods_receipt"
	entityBill    = "vendor_bill"
	entityMatch   = "match_result"
)

// DefaultFXTimeout bounds exchange rate lookups when unset.
const DefaultFXTimeout = 3 * time.Second

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequest, error)
	ListPRApprovals(ctx context.Context, prID int64) ([]PRApproval, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	GetMatchByPO(ctx context.Context, poID int64) (MatchResult, error)
	ListMatchCandidates(ctx context.Context, limit int) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort persists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	History(ctx context.Context, module string, id int64) ([]shared.ApprovalLog, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	BaseCurrency string
	FXTimeout    time.Duration
	Tolerances   ToleranceResolver
	Observer     shared.TransitionObserver
}

// Service orchestrates procurement flows.
type Service struct {
	repo        RepositoryPort
	ledger      *inventory.Ledger
	rates       fx.Provider
	approvals   ApprovalPort
	audit       AuditPort
	integration IntegrationHandler
	observer    shared.TransitionObserver
	tolerances  ToleranceResolver
	logger      *slog.Logger
	validate    *validator.Validate

	baseCurrency string
	fxTimeout    time.Duration
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, rates fx.Provider, approvals ApprovalPort, audit AuditPort, integration IntegrationHandler, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FXTimeout <= 0 {
		cfg.FXTimeout = DefaultFXTimeout
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "IDR"
	}
	if cfg.Tolerances == nil {
		cfg.Tolerances = NewTolerancePolicy(DefaultTolerance())
	}
	return &Service{
		repo:         repo,
		ledger:       ledger,
		rates:        rates,
		approvals:    approvals,
		audit:        audit,
		integration:  integration,
		observer:     cfg.Observer,
		tolerances:   cfg.Tolerances,
		logger:       logger,
		validate:     validator.New(),
		baseCurrency: strings.ToUpper(cfg.BaseCurrency),
		fxTimeout:    cfg.FXTimeout,
	}
}

// ============================================================================
// PURCHASE ORDER LIFECYCLE
// ============================================================================

// CreatePurchaseOrder stores a DRAFT purchase order.
func (s *Service) CreatePurchaseOrder(ctx context.Context, in CreatePurchaseOrderInput) (PurchaseOrder, error) {
	if err := s.validate.Struct(in); err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	currency, err := shared.NormalizeCurrency(in.Currency)
	if err != nil {
		return PurchaseOrder{}, err
	}
	lines, total, err := buildPOLines(in.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	rate := in.ExchangeRate
	switch {
	case rate.IsNegative():
		return PurchaseOrder{}, fmt.Errorf("%w: exchange rate cannot be negative", shared.ErrValidation)
	case rate.IsZero():
		if rate, err = s.exchangeRate(ctx, currency); err != nil {
			return PurchaseOrder{}, err
		}
	}

	po := PurchaseOrder{
		Number:       generateNumber("PO"),
		SupplierID:   in.SupplierID,
		Status:       POStatusDraft,
		Currency:     currency,
		ExchangeRate: rate,
		OrderDate:    defaultDate(in.OrderDate, s.ledger.Today()),
		ExpectedDate: in.ExpectedDate,
		TotalAmount:  total,
		Notes:        in.Notes,
		CreatedBy:    shared.ActorFromContext(ctx),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return fmt.Errorf("create purchase order: %w", err)
		}
		po.ID = id
		po.Lines, err = tx.ReplacePOLines(ctx, id, lines)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("purchase order created", slog.Int64("po_id", po.ID), slog.String("number", po.Number))
	s.recordAudit(ctx, "purchase_order:CREATE", entityPO, po.ID, map[string]any{"number": po.Number, "total": po.TotalAmount.String()})
	return po, nil
}

// UpdatePurchaseOrder is the single path for field edits and status changes.
// Once terms are frozen, supplier, order date and lines cannot change.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, id int64, upd PurchaseOrderUpdate) (PurchaseOrder, error) {
	var (
		newLines []POLine
		newTotal decimal.Decimal
	)
	if upd.Lines != nil {
		var err error
		if newLines, newTotal, err = buildPOLines(*upd.Lines); err != nil {
			return PurchaseOrder{}, err
		}
	}

	var (
		po   PurchaseOrder
		from POStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = po.Status
		if po.Status.TermsFrozen() {
			if err := frozenTermsChanged(po, upd, newLines); err != nil {
				return err
			}
		}

		if upd.SupplierID != nil {
			po.SupplierID = *upd.SupplierID
		}
		if upd.OrderDate != nil {
			po.OrderDate = inventory.DateOnly(*upd.OrderDate)
		}
		if upd.ExpectedDate != nil {
			po.ExpectedDate = upd.ExpectedDate
		}
		if upd.Notes != nil {
			po.Notes = *upd.Notes
		}
		if upd.Status != nil && *upd.Status != po.Status {
			if !po.Status.CanTransition(*upd.Status) {
				return shared.InvalidTransition(entityPO, po.Status, *upd.Status)
			}
			po.Status = *upd.Status
		}
		if upd.Lines != nil && !from.TermsFrozen() {
			po.Lines, err = tx.ReplacePOLines(ctx, po.ID, newLines)
			if err != nil {
				return err
			}
			po.TotalAmount = newTotal
		}
		return tx.UpdatePO(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("update purchase order: %w", err)
	}
	if from != po.Status {
		s.afterTransition(ctx, entityPO, po.ID, from.String(), po.Status.String(), map[string]any{"number": po.Number, "reason": upd.Reason})
	} else {
		s.logger.Info("purchase order updated", slog.Int64("po_id", po.ID))
	}
	return po, nil
}

// SendPurchaseOrder moves a DRAFT order to SENT.
func (s *Service) SendPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.transitionPO(ctx, id, POStatusSent, "")
}

// ConfirmPurchaseOrder records supplier confirmation.
func (s *Service) ConfirmPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.transitionPO(ctx, id, POStatusConfirmed, "")
}

// CancelPurchaseOrder cancels any non-terminal order.
func (s *Service) CancelPurchaseOrder(ctx context.Context, id int64, reason string) (PurchaseOrder, error) {
	return s.transitionPO(ctx, id, POStatusCancelled, reason)
}

func (s *Service) transitionPO(ctx context.Context, id int64, to POStatus, reason string) (PurchaseOrder, error) {
	return s.UpdatePurchaseOrder(ctx, id, PurchaseOrderUpdate{Status: &to, Reason: reason})
}

// GetPurchaseOrder retrieves a purchase order with lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

func frozenTermsChanged(po PurchaseOrder, upd PurchaseOrderUpdate, lines []POLine) error {
	if upd.SupplierID != nil && *upd.SupplierID != po.SupplierID {
		return fmt.Errorf("%w: supplier_id on %s purchase order", shared.ErrImmutableField, po.Status)
	}
	if upd.OrderDate != nil && !inventory.DateOnly(*upd.OrderDate).Equal(inventory.DateOnly(po.OrderDate)) {
		return fmt.Errorf("%w: order_date on %s purchase order", shared.ErrImmutableField, po.Status)
	}
	if upd.Lines != nil && !sameLines(po.Lines, lines) {
		return fmt.Errorf("%w: lines on %s purchase order", shared.ErrImmutableField, po.Status)
	}
	return nil
}

func sameLines(current, next []POLine) bool {
	if len(current) != len(next) {
		return false
	}
	for i := range current {
		if current[i].ProductID != next[i].ProductID ||
			!current[i].Quantity.Equal(next[i].Quantity) ||
			!current[i].UnitPrice.Equal(next[i].UnitPrice) {
			return false
		}
	}
	return true
}

func buildPOLines(inputs []LineInput) ([]POLine, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	total := decimal.Zero
	lines := make([]POLine, 0, len(inputs))
	for i, in := range inputs {
		if in.ProductID == 0 || !in.Quantity.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: line %d needs product and positive quantity", shared.ErrValidation, i+1)
		}
		if in.UnitPrice.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: line %d unit price cannot be negative", shared.ErrValidation, i+1)
		}
		line := POLine{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: lineTotal(in.Quantity, in.UnitPrice),
		}
		total = total.Add(line.LineTotal)
		lines = append(lines, line)
	}
	return lines, total, nil
}

func lineTotal(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Round(2)
}

// exchangeRate resolves currency against the base currency before any
// transaction opens, bounded by the configured timeout.
func (s *Service) exchangeRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if strings.EqualFold(currency, s.baseCurrency) {
		return decimal.NewFromInt(1), nil
	}
	if s.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: no provider for %s/%s", fx.ErrRateUnavailable, currency, s.baseCurrency)
	}
	ctx, cancel := context.WithTimeout(ctx, s.fxTimeout)
	defer cancel()
	rate, err := s.rates.Rate(ctx, currency, s.baseCurrency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange rate %s/%s: %w", currency, s.baseCurrency, err)
	}
	return rate, nil
}

func (s *Service) afterTransition(ctx context.Context, entity string, id int64, from, to string, meta map[string]any) {
	s.logger.Info("procurement document transitioned",
		slog.String("entity", entity),
		slog.Int64("id", id),
		slog.String("from", from),
		slog.String("to", to))
	if s.observer != nil {
		s.observer.ObserveTransition(entity, from, to)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.TransitionAudit(ctx, entity, id, from, to, meta)); err != nil {
			s.logger.Warn("audit transition", slog.String("entity", entity), slog.Int64("id", id), slog.Any("error", err))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, module string, id, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  module,
		RefID:   shared.ApprovalRef(module, id),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.ledger.Now(),
	})
	if err != nil {
		s.logger.Warn("record approval history", slog.String("module", module), slog.Int64("id", id), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultDate(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return inventory.DateOnly(value)
}
