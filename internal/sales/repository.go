package sales

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

// Repository provides PostgreSQL backed persistence for sales operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// Inventory shares the transaction with the batch ledger.
	Inventory() inventory.TxRepository

	CreateOrder(ctx context.Context, order SalesOrder) (int64, error)
	InsertOrderItem(ctx context.Context, item SalesOrderItem) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error)
	UpdateOrder(ctx context.Context, order SalesOrder) error
	UpdateItemReturned(ctx context.Context, itemID int64, returned decimal.Decimal) error

	HasInvoice(ctx context.Context, orderID int64, kind InvoiceKind) (bool, error)
	CountInvoices(ctx context.Context, orderID int64, kind InvoiceKind) (int, error)
	InsertInvoice(ctx context.Context, invoice Invoice) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ============================================================================
// READS
// ============================================================================

const orderColumns = `id, doc_number, customer_id, warehouse_id, status, currency, subtotal, total_amount, delivery_date, notes, created_by, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GetOrder loads an order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return loadOrder(ctx, r.pool, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1`, id)
}

// ListInvoices returns invoices for an order oldest first.
func (r *Repository) ListInvoices(ctx context.Context, orderID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, doc_number, order_id, customer_id, kind, currency, subtotal, total_amount, issued_at
FROM invoices WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		var kind string
		if err := rows.Scan(&inv.ID, &inv.DocNumber, &inv.OrderID, &inv.CustomerID, &kind, &inv.Currency, &inv.Subtotal, &inv.TotalAmount, &inv.IssuedAt); err != nil {
			return nil, err
		}
		inv.Kind = InvoiceKind(kind)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range invoices {
		lines, err := r.pool.Query(ctx, `SELECT id, invoice_id, product_id, quantity, unit_price, line_total
FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		for lines.Next() {
			var l InvoiceLine
			if err := lines.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
				lines.Close()
				return nil, err
			}
			invoices[i].Lines = append(invoices[i].Lines, l)
		}
		lines.Close()
		if err := lines.Err(); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func loadOrder(ctx context.Context, q querier, sql string, id int64) (SalesOrder, error) {
	var o SalesOrder
	var status string
	err := q.QueryRow(ctx, sql, id).Scan(&o.ID, &o.DocNumber, &o.CustomerID, &o.WarehouseID, &status, &o.Currency,
		&o.Subtotal, &o.TotalAmount, &o.DeliveryDate, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesOrder{}, shared.NotFound(entityOrder, id)
	}
	if err != nil {
		return SalesOrder{}, err
	}
	o.Status = OrderStatus(status)
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, line_total, returned_quantity
FROM sales_order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return SalesOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item SalesOrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal, &item.ReturnedQuantity); err != nil {
			return SalesOrder{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (r *txRepo) Inventory() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

func (r *txRepo) CreateOrder(ctx context.Context, o SalesOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_orders (doc_number, customer_id, warehouse_id, status, currency, subtotal, total_amount, delivery_date, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()) RETURNING id`,
		o.DocNumber, o.CustomerID, o.WarehouseID, string(o.Status), o.Currency, o.Subtotal, o.TotalAmount, o.DeliveryDate, o.Notes, o.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) InsertOrderItem(ctx context.Context, item SalesOrderItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_order_items (order_id, product_id, quantity, unit_price, line_total, returned_quantity)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal, item.ReturnedQuantity).Scan(&id)
	return id, err
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error) {
	return loadOrder(ctx, r.tx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepo) UpdateOrder(ctx context.Context, o SalesOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales_orders SET status=$2, warehouse_id=$3, delivery_date=$4, notes=$5, updated_at=NOW() WHERE id=$1`,
		o.ID, string(o.Status), o.WarehouseID, o.DeliveryDate, o.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(entityOrder, o.ID)
	}
	return nil
}

func (r *txRepo) UpdateItemReturned(ctx context.Context, itemID int64, returned decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_order_items SET returned_quantity=$2 WHERE id=$1`, itemID, returned)
	return err
}

func (r *txRepo) HasInvoice(ctx context.Context, orderID int64, kind InvoiceKind) (bool, error) {
	n, err := r.CountInvoices(ctx, orderID, kind)
	return n > 0, err
}

func (r *txRepo) CountInvoices(ctx context.Context, orderID int64, kind InvoiceKind) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE order_id=$1 AND kind=$2`, orderID, string(kind)).Scan(&n)
	return n, err
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (doc_number, order_id, customer_id, kind, currency, subtotal, total_amount, issued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		inv.DocNumber, inv.OrderID, inv.CustomerID, string(inv.Kind), inv.Currency, inv.Subtotal, inv.TotalAmount, inv.IssuedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	batch := &pgx.Batch{}
	for _, l := range inv.Lines {
		batch.Queue(`INSERT INTO invoice_lines (invoice_id, product_id, quantity, unit_price, line_total) VALUES ($1, $2, $3, $4, $5)`,
			id, l.ProductID, l.Quantity, l.UnitPrice, l.LineTotal)
	}
	if batch.Len() > 0 {
		if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, err
		}
	}
	return id, nil
}
