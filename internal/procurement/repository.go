package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Get*ForUpdate methods lock
// the row until the transaction ends.
type TxRepository interface {
	// Inventory shares the transaction with the batch ledger.
	Inventory() inventory.TxRepository

	CreatePR(ctx context.Context, pr PurchaseRequest) (int64, error)
	InsertPRLine(ctx context.Context, line PRLine) (int64, error)
	GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequest, error)
	UpdatePR(ctx context.Context, pr PurchaseRequest) error
	ListActiveRules(ctx context.Context, entityType, currency string) ([]ApprovalRule, error)
	InsertPRApproval(ctx context.Context, approval PRApproval) (int64, error)
	ListPRApprovalsForUpdate(ctx context.Context, prID int64) ([]PRApproval, error)
	UpdatePRApproval(ctx context.Context, approval PRApproval) error

	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	ReplacePOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error)
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePO(ctx context.Context, po PurchaseOrder) error

	CreateGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error)
	InsertGoodsReceiptLine(ctx context.Context, line GRLine) (int64, error)
	GetGoodsReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error)
	UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error
	ListPostedReceipts(ctx context.Context, poID int64) ([]GoodsReceipt, error)
	SumReceived(ctx context.Context, poID int64) (decimal.Decimal, error)
	// ClaimPostingKey reserves a posting key inside the transaction, so a
	// rollback frees it. A key claimed before yields ErrIdempotencyConflict.
	ClaimPostingKey(ctx context.Context, module, key string) error

	CreateVendorBill(ctx context.Context, bill VendorBill) (int64, error)
	GetVendorBillForUpdate(ctx context.Context, id int64) (VendorBill, error)
	UpdateVendorBill(ctx context.Context, bill VendorBill) error
	ListActiveBills(ctx context.Context, poID int64) ([]VendorBill, error)

	GetMatchByPOForUpdate(ctx context.Context, poID int64) (MatchResult, error)
	GetMatchForUpdate(ctx context.Context, id int64) (MatchResult, error)
	// SaveMatch upserts the single match record of a purchase order.
	SaveMatch(ctx context.Context, m MatchResult) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ============================================================================
// READS
// ============================================================================

// GetPR returns a purchase request and lines.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return loadPR(ctx, r.pool, `SELECT `+prColumns+` FROM purchase_requests WHERE id=$1`, id)
}

// ListPRApprovals returns approval levels ordered by level.
func (r *Repository) ListPRApprovals(ctx context.Context, prID int64) ([]PRApproval, error) {
	return queryApprovals(ctx, r.pool, `SELECT `+approvalColumns+` FROM purchase_request_approvals WHERE pr_id=$1 ORDER BY level, id`, prID)
}

// GetPO returns a purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id)
}

// GetGoodsReceipt returns a receipt and lines.
func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return loadReceipt(ctx, r.pool, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id=$1`, id)
}

// GetMatchByPO returns the match record of a purchase order.
func (r *Repository) GetMatchByPO(ctx context.Context, poID int64) (MatchResult, error) {
	return scanMatch(r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM match_results WHERE po_id=$1`, poID), poID)
}

// ListMatchCandidates returns open purchase orders that have receipts or
// bills but no settled match.
func (r *Repository) ListMatchCandidates(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT po.id FROM purchase_orders po
LEFT JOIN match_results m ON m.po_id = po.id
WHERE po.status IN ('SENT', 'CONFIRMED', 'RECEIVED')
  AND (m.id IS NULL OR (m.status <> 'MATCHED' AND m.resolved_at IS NULL) OR po.status = 'RECEIVED')
  AND (EXISTS (SELECT 1 FROM goods_receipts g WHERE g.po_id = po.id AND g.status = 'POSTED')
       OR EXISTS (SELECT 1 FROM vendor_bills b WHERE b.po_id = po.id AND b.status <> 'VOID'))
ORDER BY po.id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadPR(ctx context.Context, q querier, sql string, id int64) (PurchaseRequest, error) {
	var pr PurchaseRequest
	var status string
	err := q.QueryRow(ctx, sql, id).Scan(&pr.ID, &pr.Number, &pr.RequestedBy, &pr.SupplierID, &pr.Currency,
		&status, &pr.TotalAmount, &pr.POID, &pr.Note, &pr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseRequest{}, shared.NotFound(entityPR, id)
	}
	if err != nil {
		return PurchaseRequest{}, err
	}
	pr.Status = PRStatus(status)
	rows, err := q.Query(ctx, `SELECT id, pr_id, product_id, quantity, unit_price FROM purchase_request_lines WHERE pr_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseRequest{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PRLine
		if err := rows.Scan(&l.ID, &l.PRID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return PurchaseRequest{}, err
		}
		pr.Lines = append(pr.Lines, l)
	}
	return pr, rows.Err()
}

func loadPO(ctx context.Context, q querier, sql string, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := q.QueryRow(ctx, sql, id).Scan(&po.ID, &po.Number, &po.SupplierID, &po.PRID, &status, &po.Currency,
		&po.ExchangeRate, &po.OrderDate, &po.ExpectedDate, &po.TotalAmount, &po.Notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, shared.NotFound(entityPO, id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	rows, err := q.Query(ctx, `SELECT id, po_id, product_id, quantity, unit_price, line_total FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, l)
	}
	return po, rows.Err()
}

func loadReceipt(ctx context.Context, q querier, sql string, id int64) (GoodsReceipt, error) {
	var gr GoodsReceipt
	var status string
	err := q.QueryRow(ctx, sql, id).Scan(&gr.ID, &gr.Number, &gr.POID, &gr.WarehouseID, &status, &gr.ReceivedAt, &gr.PostedAt, &gr.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, shared.NotFound(entityReceipt, id)
	}
	if err != nil {
		return GoodsReceipt{}, err
	}
	gr.Status = GRStatus(status)
	gr.Lines, err = queryReceiptLines(ctx, q, id)
	return gr, err
}

func queryReceiptLines(ctx context.Context, q querier, grID int64) ([]GRLine, error) {
	rows, err := q.Query(ctx, `SELECT id, gr_id, product_id, quantity, batch_number, expiry_date, unit_cost
FROM goods_receipt_lines WHERE gr_id=$1 ORDER BY id`, grID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GRLine
	for rows.Next() {
		var l GRLine
		if err := rows.Scan(&l.ID, &l.GRID, &l.ProductID, &l.Quantity, &l.BatchNumber, &l.ExpiryDate, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
