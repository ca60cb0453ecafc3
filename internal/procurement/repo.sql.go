package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const (
	prColumns       = `id, number, requested_by, supplier_id, currency, status, total_amount, po_id, note, created_at`
	poColumns       = `id, number, supplier_id, pr_id, status, currency, exchange_rate, order_date, expected_date, total_amount, notes, created_by, created_at, updated_at`
	receiptColumns  = `id, number, po_id, warehouse_id, status, received_at, posted_at, notes`
	billColumns     = `id, number, po_id, supplier_id, currency, total_amount, status, bill_date`
	matchColumns    = `id, po_id, gr_id, bill_id, status, quantity_variance, price_variance, resolved_by, resolved_at, resolution_notes, evaluated_at`
	approvalColumns = `id, pr_id, rule_id, level, status, approver_id, acted_at, comments`
)

func (r *txRepo) Inventory() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

// ============================================================================
// PURCHASE REQUESTS
// ============================================================================

func (r *txRepo) CreatePR(ctx context.Context, pr PurchaseRequest) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_requests (number, requested_by, supplier_id, currency, status, total_amount, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING id`,
		pr.Number, pr.RequestedBy, pr.SupplierID, pr.Currency, string(pr.Status), pr.TotalAmount, pr.Note).Scan(&id)
	return id, err
}

func (r *txRepo) InsertPRLine(ctx context.Context, line PRLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_request_lines (pr_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id`,
		line.PRID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&id)
	return id, err
}

func (r *txRepo) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequest, error) {
	return loadPR(ctx, r.tx, `SELECT `+prColumns+` FROM purchase_requests WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepo) UpdatePR(ctx context.Context, pr PurchaseRequest) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_requests SET status=$2, po_id=$3, total_amount=$4 WHERE id=$1`,
		pr.ID, string(pr.Status), pr.POID, pr.TotalAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(entityPR, pr.ID)
	}
	return nil
}

func (r *txRepo) ListActiveRules(ctx context.Context, entityType, currency string) ([]ApprovalRule, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, entity_type, currency, amount_range_min, amount_range_max, level, approver_role, is_active
FROM approval_rules WHERE entity_type=$1 AND currency=$2 AND is_active ORDER BY level, id`, entityType, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []ApprovalRule
	for rows.Next() {
		var rule ApprovalRule
		if err := rows.Scan(&rule.ID, &rule.EntityType, &rule.Currency, &rule.AmountRangeMin, &rule.AmountRangeMax,
			&rule.Level, &rule.ApproverRole, &rule.IsActive); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *txRepo) InsertPRApproval(ctx context.Context, a PRApproval) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_request_approvals (pr_id, rule_id, level, status, comments) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.PRID, a.RuleID, a.Level, string(a.Status), a.Comments).Scan(&id)
	return id, err
}

func (r *txRepo) ListPRApprovalsForUpdate(ctx context.Context, prID int64) ([]PRApproval, error) {
	return queryApprovals(ctx, r.tx, `SELECT `+approvalColumns+` FROM purchase_request_approvals WHERE pr_id=$1 ORDER BY level, id FOR UPDATE`, prID)
}

func (r *txRepo) UpdatePRApproval(ctx context.Context, a PRApproval) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_request_approvals SET status=$2, approver_id=$3, acted_at=$4, comments=$5 WHERE id=$1`,
		a.ID, string(a.Status), a.ApproverID, a.ActedAt, a.Comments)
	return err
}

func queryApprovals(ctx context.Context, q querier, sql string, prID int64) ([]PRApproval, error) {
	rows, err := q.Query(ctx, sql, prID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var approvals []PRApproval
	for rows.Next() {
		var a PRApproval
		var status string
		if err := rows.Scan(&a.ID, &a.PRID, &a.RuleID, &a.Level, &status, &a.ApproverID, &a.ActedAt, &a.Comments); err != nil {
			return nil, err
		}
		a.Status = ApprovalStatus(status)
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// ============================================================================
// PURCHASE ORDERS
// ============================================================================

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, pr_id, status, currency, exchange_rate, order_date, expected_date, total_amount, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW()) RETURNING id`,
		po.Number, po.SupplierID, po.PRID, string(po.Status), po.Currency, po.ExchangeRate, po.OrderDate, po.ExpectedDate,
		po.TotalAmount, po.Notes, po.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) ReplacePOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE po_id=$1`, poID); err != nil {
		return nil, err
	}
	stored := make([]POLine, 0, len(lines))
	for _, l := range lines {
		l.POID = poID
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, product_id, quantity, unit_price, line_total) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			poID, l.ProductID, l.Quantity, l.UnitPrice, l.LineTotal).Scan(&l.ID)
		if err != nil {
			return nil, err
		}
		stored = append(stored, l)
	}
	return stored, nil
}

func (r *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.tx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepo) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, supplier_id=$3, order_date=$4, expected_date=$5, total_amount=$6, notes=$7, updated_at=NOW() WHERE id=$1`,
		po.ID, string(po.Status), po.SupplierID, po.OrderDate, po.ExpectedDate, po.TotalAmount, po.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(entityPO, po.ID)
	}
	return nil
}

// ============================================================================
// GOODS RECEIPTS
// ============================================================================

func (r *txRepo) CreateGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, po_id, warehouse_id, status, received_at, notes) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		gr.Number, gr.POID, gr.WarehouseID, string(gr.Status), gr.ReceivedAt, gr.Notes).Scan(&id)
	return id, err
}

func (r *txRepo) InsertGoodsReceiptLine(ctx context.Context, line GRLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines (gr_id, product_id, quantity, batch_number, expiry_date, unit_cost) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.GRID, line.ProductID, line.Quantity, line.BatchNumber, line.ExpiryDate, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepo) GetGoodsReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	return loadReceipt(ctx, r.tx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepo) UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET status=$2, posted_at=$3 WHERE id=$1`, gr.ID, string(gr.Status), gr.PostedAt)
	return err
}

func (r *txRepo) ListPostedReceipts(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE po_id=$1 AND status='POSTED' ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	var receipts []GoodsReceipt
	for rows.Next() {
		var gr GoodsReceipt
		var status string
		if err := rows.Scan(&gr.ID, &gr.Number, &gr.POID, &gr.WarehouseID, &status, &gr.ReceivedAt, &gr.PostedAt, &gr.Notes); err != nil {
			rows.Close()
			return nil, err
		}
		gr.Status = GRStatus(status)
		receipts = append(receipts, gr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range receipts {
		if receipts[i].Lines, err = queryReceiptLines(ctx, r.tx, receipts[i].ID); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

func (r *txRepo) SumReceived(ctx context.Context, poID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.quantity), 0) FROM goods_receipt_lines l
JOIN goods_receipts g ON g.id = l.gr_id WHERE g.po_id=$1 AND g.status='POSTED'`, poID).Scan(&total)
	return total, err
}

func (r *txRepo) ClaimPostingKey(ctx context.Context, module, key string) error {
	return shared.ClaimKey(ctx, r.tx, module, key, time.Now().UTC())
}

// ============================================================================
// VENDOR BILLS & MATCHES
// ============================================================================

func (r *txRepo) CreateVendorBill(ctx context.Context, bill VendorBill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vendor_bills (number, po_id, supplier_id, currency, total_amount, status, bill_date) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		bill.Number, bill.POID, bill.SupplierID, bill.Currency, bill.TotalAmount, string(bill.Status), bill.BillDate).Scan(&id)
	return id, err
}

func (r *txRepo) GetVendorBillForUpdate(ctx context.Context, id int64) (VendorBill, error) {
	bill, err := scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return VendorBill{}, shared.NotFound(entityBill, id)
	}
	return bill, err
}

func (r *txRepo) UpdateVendorBill(ctx context.Context, bill VendorBill) error {
	_, err := r.tx.Exec(ctx, `UPDATE vendor_bills SET status=$2 WHERE id=$1`, bill.ID, string(bill.Status))
	return err
}

func (r *txRepo) ListActiveBills(ctx context.Context, poID int64) ([]VendorBill, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE po_id=$1 AND status <> 'VOID' ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bills []VendorBill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func scanBill(row pgx.Row) (VendorBill, error) {
	var bill VendorBill
	var status string
	err := row.Scan(&bill.ID, &bill.Number, &bill.POID, &bill.SupplierID, &bill.Currency, &bill.TotalAmount, &status, &bill.BillDate)
	bill.Status = BillStatus(status)
	return bill, err
}

func (r *txRepo) GetMatchByPOForUpdate(ctx context.Context, poID int64) (MatchResult, error) {
	return scanMatch(r.tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM match_results WHERE po_id=$1 FOR UPDATE`, poID), poID)
}

func (r *txRepo) GetMatchForUpdate(ctx context.Context, id int64) (MatchResult, error) {
	return scanMatch(r.tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM match_results WHERE id=$1 FOR UPDATE`, id), id)
}

func (r *txRepo) SaveMatch(ctx context.Context, m MatchResult) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO match_results (po_id, gr_id, bill_id, status, quantity_variance, price_variance, resolved_by, resolved_at, resolution_notes, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
ON CONFLICT (po_id) DO UPDATE SET gr_id=EXCLUDED.gr_id, bill_id=EXCLUDED.bill_id, status=EXCLUDED.status,
  quantity_variance=EXCLUDED.quantity_variance, price_variance=EXCLUDED.price_variance,
  resolved_by=EXCLUDED.resolved_by, resolved_at=EXCLUDED.resolved_at, resolution_notes=EXCLUDED.resolution_notes,
  evaluated_at=EXCLUDED.evaluated_at
RETURNING id`,
		m.POID, m.GRID, m.BillID, string(m.Status), m.QuantityVariance, m.PriceVariance, m.ResolvedBy, m.ResolvedAt,
		m.ResolutionNotes, nullTime(m.EvaluatedAt)).Scan(&id)
	return id, err
}

func scanMatch(row pgx.Row, id int64) (MatchResult, error) {
	var m MatchResult
	var status string
	err := row.Scan(&m.ID, &m.POID, &m.GRID, &m.BillID, &status, &m.QuantityVariance, &m.PriceVariance,
		&m.ResolvedBy, &m.ResolvedAt, &m.ResolutionNotes, &m.EvaluatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MatchResult{}, shared.NotFound(entityMatch, id)
	}
	if err != nil {
		return MatchResult{}, err
	}
	m.Status = MatchStatus(status)
	return m, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
