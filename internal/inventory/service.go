package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes read access to the ledger plus manual corrections.
type Service struct {
	repo        RepositoryPort
	ledger      *Ledger
	audit       AuditPort
	integration IntegrationHandler
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort, integration IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, integration: integration, logger: logger}
}

// PreviewAllocation plans an allocation without consuming stock.
func (s *Service) PreviewAllocation(ctx context.Context, req AllocationRequest) ([]Allocation, error) {
	var allocs []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		allocs, err = s.ledger.NewAllocator(tx).Allocate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

// AdjustBatch posts a signed quantity correction to one batch.
func (s *Service) AdjustBatch(ctx context.Context, in AdjustmentInput) (Batch, StockMovement, error) {
	if in.Reference == "" {
		in.Reference = fmt.Sprintf("ADJ-%d", s.ledger.Now().UnixNano())
	}
	var (
		batch Batch
		mv    StockMovement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, mv, err = s.ledger.Adjust(ctx, tx, in)
		return err
	})
	if err != nil {
		return Batch{}, StockMovement{}, err
	}
	s.logger.Info("inventory adjusted",
		slog.Int64("batch_id", batch.ID),
		slog.String("delta", in.Delta.String()),
		slog.String("reference", in.Reference))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   fmt.Sprintf("inventory:%s", MovementAdjust),
			Entity:   "batch",
			EntityID: fmt.Sprintf("%d", batch.ID),
			Meta: map[string]any{
				"warehouse_id": batch.WarehouseID,
				"product_id":   batch.ProductID,
				"delta":        in.Delta.String(),
				"note":         in.Note,
			},
		})
	}
	if s.integration != nil {
		evt := AdjustmentPostedEvent{
			Reference:   in.Reference,
			BatchID:     batch.ID,
			WarehouseID: batch.WarehouseID,
			ProductID:   batch.ProductID,
			Delta:       in.Delta,
			UnitCost:    mv.UnitCost,
			PostedAt:    mv.CreatedAt,
		}
		if err := s.integration.HandleInventoryAdjustmentPosted(ctx, evt); err != nil {
			s.logger.Warn("adjustment integration failed", slog.Int64("batch_id", batch.ID), slog.Any("error", err))
		}
	}
	return batch, mv, nil
}

// ListBatches returns batches matching filter.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

// ListMovements returns ledger movements matching filter.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// Available sums sellable quantity for a product in a warehouse.
func (s *Service) Available(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	if productID == 0 || warehouseID == 0 {
		return decimal.Zero, fmt.Errorf("%w: warehouse and product required", shared.ErrValidation)
	}
	batches, err := s.repo.ListBatches(ctx, BatchFilter{ProductID: productID, WarehouseID: warehouseID, IncludeExpired: true})
	if err != nil {
		return decimal.Zero, err
	}
	today := s.ledger.Today()
	total := decimal.Zero
	for _, b := range batches {
		if b.IsExpired(today) {
			continue
		}
		total = total.Add(b.Quantity)
	}
	return total, nil
}
