package sales

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// ============================================================================
// MEMORY REPOSITORY
// ============================================================================

type memoryRepo struct {
	mu          sync.Mutex
	orders      map[int64]SalesOrder
	invoices    []Invoice
	nextOrder   int64
	nextItem    int64
	nextInvoice int64
	stock       *inventorytest.Store
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(stock *inventorytest.Store) *memoryRepo {
	return &memoryRepo{orders: make(map[int64]SalesOrder), stock: stock}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := make(map[int64]SalesOrder, len(r.orders))
	for id, o := range r.orders {
		o.Items = slices.Clone(o.Items)
		orders[id] = o
	}
	invoices := len(r.invoices)
	nextOrder, nextItem, nextInvoice := r.nextOrder, r.nextItem, r.nextInvoice
	restoreStock := r.stock.Snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.orders = orders
		r.invoices = r.invoices[:invoices]
		r.nextOrder, r.nextItem, r.nextInvoice = nextOrder, nextItem, nextInvoice
		restoreStock()
		return err
	}
	return nil
}

func (r *memoryRepo) GetOrder(_ context.Context, id int64) (SalesOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return SalesOrder{}, shared.NotFound(entityOrder, id)
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, orderID int64) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.OrderID == orderID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (tx *memoryTx) Inventory() inventory.TxRepository { return tx.repo.stock }

func (tx *memoryTx) CreateOrder(_ context.Context, o SalesOrder) (int64, error) {
	tx.repo.nextOrder++
	o.ID = tx.repo.nextOrder
	o.Items = nil
	tx.repo.orders[o.ID] = o
	return o.ID, nil
}

func (tx *memoryTx) InsertOrderItem(_ context.Context, item SalesOrderItem) (int64, error) {
	tx.repo.nextItem++
	item.ID = tx.repo.nextItem
	o := tx.repo.orders[item.OrderID]
	o.Items = append(o.Items, item)
	tx.repo.orders[item.OrderID] = o
	return item.ID, nil
}

func (tx *memoryTx) GetOrderForUpdate(_ context.Context, id int64) (SalesOrder, error) {
	o, ok := tx.repo.orders[id]
	if !ok {
		return SalesOrder{}, shared.NotFound(entityOrder, id)
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (tx *memoryTx) UpdateOrder(_ context.Context, o SalesOrder) error {
	current, ok := tx.repo.orders[o.ID]
	if !ok {
		return shared.NotFound(entityOrder, o.ID)
	}
	current.Status = o.Status
	current.WarehouseID = o.WarehouseID
	current.DeliveryDate = o.DeliveryDate
	current.Notes = o.Notes
	tx.repo.orders[o.ID] = current
	return nil
}

func (tx *memoryTx) UpdateItemReturned(_ context.Context, itemID int64, returned decimal.Decimal) error {
	for id, o := range tx.repo.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].ReturnedQuantity = returned
				tx.repo.orders[id] = o
				return nil
			}
		}
	}
	return shared.NotFound("sales_order_item", itemID)
}

func (tx *memoryTx) HasInvoice(ctx context.Context, orderID int64, kind InvoiceKind) (bool, error) {
	n, err := tx.CountInvoices(ctx, orderID, kind)
	return n > 0, err
}

func (tx *memoryTx) CountInvoices(_ context.Context, orderID int64, kind InvoiceKind) (int, error) {
	n := 0
	for _, inv := range tx.repo.invoices {
		if inv.OrderID == orderID && inv.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) InsertInvoice(_ context.Context, inv Invoice) (int64, error) {
	tx.repo.nextInvoice++
	inv.ID = tx.repo.nextInvoice
	tx.repo.invoices = append(tx.repo.invoices, inv)
	return inv.ID, nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

type transitionCounter struct {
	mu   sync.Mutex
	seen []string
}

func (c *transitionCounter) ObserveTransition(entity, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, entity+":"+from+"->"+to)
}
