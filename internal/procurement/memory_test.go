package procurement

import (
	"context"
	"maps"
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

type memoryState struct {
	prs       map[int64]PurchaseRequest
	approvals []PRApproval
	pos       map[int64]PurchaseOrder
	receipts  map[int64]GoodsReceipt
	bills     map[int64]VendorBill
	matches   map[int64]MatchResult
	keys      map[string]bool
	seq       int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		prs:       make(map[int64]PurchaseRequest, len(s.prs)),
		approvals: slices.Clone(s.approvals),
		pos:       make(map[int64]PurchaseOrder, len(s.pos)),
		receipts:  make(map[int64]GoodsReceipt, len(s.receipts)),
		bills:     maps.Clone(s.bills),
		matches:   maps.Clone(s.matches),
		keys:      maps.Clone(s.keys),
		seq:       s.seq,
	}
	for id, pr := range s.prs {
		pr.Lines = slices.Clone(pr.Lines)
		out.prs[id] = pr
	}
	for id, po := range s.pos {
		po.Lines = slices.Clone(po.Lines)
		out.pos[id] = po
	}
	for id, gr := range s.receipts {
		gr.Lines = slices.Clone(gr.Lines)
		out.receipts[id] = gr
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
	rules []ApprovalRule
	stock *inventorytest.Store
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(stock *inventorytest.Store) *memoryRepo {
	return &memoryRepo{
		state: memoryState{
			prs:      make(map[int64]PurchaseRequest),
			pos:      make(map[int64]PurchaseOrder),
			receipts: make(map[int64]GoodsReceipt),
			bills:    make(map[int64]VendorBill),
			matches:  make(map[int64]MatchResult),
			keys:     make(map[string]bool),
		},
		stock: stock,
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := r.state.clone()
	restoreStock := r.stock.Snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = saved
		restoreStock()
		return err
	}
	return nil
}

func (r *memoryRepo) GetPR(_ context.Context, id int64) (PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pr(id)
}

func (r *memoryRepo) ListPRApprovals(_ context.Context, prID int64) ([]PRApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approvalsFor(prID), nil
}

func (r *memoryRepo) GetPO(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.po(id)
}

func (r *memoryRepo) GetGoodsReceipt(_ context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receipt(id)
}

func (r *memoryRepo) GetMatchByPO(_ context.Context, poID int64) (MatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchByPO(poID)
}

func (r *memoryRepo) ListMatchCandidates(_ context.Context, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, id := range slices.Sorted(maps.Keys(r.state.pos)) {
		po := r.state.pos[id]
		if po.Status != POStatusSent && po.Status != POStatusConfirmed && po.Status != POStatusReceived {
			continue
		}
		m, err := r.matchByPO(id)
		settled := err == nil && (m.Status == MatchMatched || m.Resolved()) && po.Status != POStatusReceived
		if settled || (len(r.postedReceipts(id)) == 0 && len(r.activeBills(id)) == 0) {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r *memoryRepo) pr(id int64) (PurchaseRequest, error) {
	pr, ok := r.state.prs[id]
	if !ok {
		return PurchaseRequest{}, shared.NotFound(entityPR, id)
	}
	pr.Lines = slices.Clone(pr.Lines)
	return pr, nil
}

func (r *memoryRepo) po(id int64) (PurchaseOrder, error) {
	po, ok := r.state.pos[id]
	if !ok {
		return PurchaseOrder{}, shared.NotFound(entityPO, id)
	}
	po.Lines = slices.Clone(po.Lines)
	return po, nil
}

func (r *memoryRepo) receipt(id int64) (GoodsReceipt, error) {
	gr, ok := r.state.receipts[id]
	if !ok {
		return GoodsReceipt{}, shared.NotFound(entityReceipt, id)
	}
	gr.Lines = slices.Clone(gr.Lines)
	return gr, nil
}

func (r *memoryRepo) matchByPO(poID int64) (MatchResult, error) {
	for _, m := range r.state.matches {
		if m.POID == poID {
			return m, nil
		}
	}
	return MatchResult{}, shared.NotFound(entityMatch, poID)
}

func (r *memoryRepo) approvalsFor(prID int64) []PRApproval {
	var out []PRApproval
	for _, a := range r.state.approvals {
		if a.PRID == prID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b PRApproval) int { return a.Level - b.Level })
	return out
}

func (r *memoryRepo) postedReceipts(poID int64) []GoodsReceipt {
	var out []GoodsReceipt
	for _, id := range slices.Sorted(maps.Keys(r.state.receipts)) {
		gr := r.state.receipts[id]
		if gr.POID == poID && gr.Status == GRStatusPosted {
			gr.Lines = slices.Clone(gr.Lines)
			out = append(out, gr)
		}
	}
	return out
}

func (r *memoryRepo) activeBills(poID int64) []VendorBill {
	var out []VendorBill
	for _, id := range slices.Sorted(maps.Keys(r.state.bills)) {
		bill := r.state.bills[id]
		if bill.POID != nil && *bill.POID == poID && bill.Status != BillStatusVoid {
			out = append(out, bill)
		}
	}
	return out
}

func (r *memoryRepo) nextID() int64 {
	r.state.seq++
	return r.state.seq
}

func (tx *memoryTx) Inventory() inventory.TxRepository { return tx.repo.stock }

func (tx *memoryTx) CreatePR(_ context.Context, pr PurchaseRequest) (int64, error) {
	pr.ID = tx.repo.nextID()
	pr.Lines = nil
	tx.repo.state.prs[pr.ID] = pr
	return pr.ID, nil
}

func (tx *memoryTx) InsertPRLine(_ context.Context, line PRLine) (int64, error) {
	line.ID = tx.repo.nextID()
	pr := tx.repo.state.prs[line.PRID]
	pr.Lines = append(pr.Lines, line)
	tx.repo.state.prs[line.PRID] = pr
	return line.ID, nil
}

func (tx *memoryTx) GetPRForUpdate(_ context.Context, id int64) (PurchaseRequest, error) {
	return tx.repo.pr(id)
}

func (tx *memoryTx) UpdatePR(_ context.Context, pr PurchaseRequest) error {
	current, ok := tx.repo.state.prs[pr.ID]
	if !ok {
		return shared.NotFound(entityPR, pr.ID)
	}
	current.Status = pr.Status
	current.POID = pr.POID
	current.TotalAmount = pr.TotalAmount
	tx.repo.state.prs[pr.ID] = current
	return nil
}

func (tx *memoryTx) ListActiveRules(_ context.Context, entityType, currency string) ([]ApprovalRule, error) {
	var out []ApprovalRule
	for _, rule := range tx.repo.rules {
		if rule.EntityType == entityType && rule.Currency == currency && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertPRApproval(_ context.Context, a PRApproval) (int64, error) {
	a.ID = tx.repo.nextID()
	tx.repo.state.approvals = append(tx.repo.state.approvals, a)
	return a.ID, nil
}

func (tx *memoryTx) ListPRApprovalsForUpdate(_ context.Context, prID int64) ([]PRApproval, error) {
	return tx.repo.approvalsFor(prID), nil
}

func (tx *memoryTx) UpdatePRApproval(_ context.Context, a PRApproval) error {
	for i := range tx.repo.state.approvals {
		if tx.repo.state.approvals[i].ID == a.ID {
			tx.repo.state.approvals[i] = a
			return nil
		}
	}
	return shared.NotFound("purchase_request_approval", a.ID)
}

func (tx *memoryTx) CreatePO(_ context.Context, po PurchaseOrder) (int64, error) {
	po.ID = tx.repo.nextID()
	po.Lines = nil
	tx.repo.state.pos[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) ReplacePOLines(_ context.Context, poID int64, lines []POLine) ([]POLine, error) {
	po, ok := tx.repo.state.pos[poID]
	if !ok {
		return nil, shared.NotFound(entityPO, poID)
	}
	po.Lines = nil
	for _, l := range lines {
		l.ID = tx.repo.nextID()
		l.POID = poID
		po.Lines = append(po.Lines, l)
	}
	tx.repo.state.pos[poID] = po
	return slices.Clone(po.Lines), nil
}

func (tx *memoryTx) GetPOForUpdate(_ context.Context, id int64) (PurchaseOrder, error) {
	return tx.repo.po(id)
}

func (tx *memoryTx) UpdatePO(_ context.Context, po PurchaseOrder) error {
	current, ok := tx.repo.state.pos[po.ID]
	if !ok {
		return shared.NotFound(entityPO, po.ID)
	}
	po.Lines = current.Lines
	tx.repo.state.pos[po.ID] = po
	return nil
}

func (tx *memoryTx) CreateGoodsReceipt(_ context.Context, gr GoodsReceipt) (int64, error) {
	gr.ID = tx.repo.nextID()
	gr.Lines = nil
	tx.repo.state.receipts[gr.ID] = gr
	return gr.ID, nil
}

func (tx *memoryTx) InsertGoodsReceiptLine(_ context.Context, line GRLine) (int64, error) {
	line.ID = tx.repo.nextID()
	gr := tx.repo.state.receipts[line.GRID]
	gr.Lines = append(gr.Lines, line)
	tx.repo.state.receipts[line.GRID] = gr
	return line.ID, nil
}

func (tx *memoryTx) GetGoodsReceiptForUpdate(_ context.Context, id int64) (GoodsReceipt, error) {
	return tx.repo.receipt(id)
}

func (tx *memoryTx) UpdateGoodsReceipt(_ context.Context, gr GoodsReceipt) error {
	current, ok := tx.repo.state.receipts[gr.ID]
	if !ok {
		return shared.NotFound(entityReceipt, gr.ID)
	}
	current.Status = gr.Status
	current.PostedAt = gr.PostedAt
	tx.repo.state.receipts[gr.ID] = current
	return nil
}

func (tx *memoryTx) ListPostedReceipts(_ context.Context, poID int64) ([]GoodsReceipt, error) {
	return tx.repo.postedReceipts(poID), nil
}

func (tx *memoryTx) SumReceived(_ context.Context, poID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, gr := range tx.repo.postedReceipts(poID) {
		total = total.Add(gr.ReceivedQuantity())
	}
	return total, nil
}

func (tx *memoryTx) ClaimPostingKey(_ context.Context, module, key string) error {
	if tx.repo.state.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	tx.repo.state.keys[module+":"+key] = true
	return nil
}

func (tx *memoryTx) CreateVendorBill(_ context.Context, bill VendorBill) (int64, error) {
	bill.ID = tx.repo.nextID()
	tx.repo.state.bills[bill.ID] = bill
	return bill.ID, nil
}

func (tx *memoryTx) GetVendorBillForUpdate(_ context.Context, id int64) (VendorBill, error) {
	bill, ok := tx.repo.state.bills[id]
	if !ok {
		return VendorBill{}, shared.NotFound(entityBill, id)
	}
	return bill, nil
}

func (tx *memoryTx) UpdateVendorBill(_ context.Context, bill VendorBill) error {
	tx.repo.state.bills[bill.ID] = bill
	return nil
}

func (tx *memoryTx) ListActiveBills(_ context.Context, poID int64) ([]VendorBill, error) {
	return tx.repo.activeBills(poID), nil
}

func (tx *memoryTx) GetMatchByPOForUpdate(_ context.Context, poID int64) (MatchResult, error) {
	return tx.repo.matchByPO(poID)
}

func (tx *memoryTx) GetMatchForUpdate(_ context.Context, id int64) (MatchResult, error) {
	m, ok := tx.repo.state.matches[id]
	if !ok {
		return MatchResult{}, shared.NotFound(entityMatch, id)
	}
	return m, nil
}

func (tx *memoryTx) SaveMatch(_ context.Context, m MatchResult) (int64, error) {
	if existing, err := tx.repo.matchByPO(m.POID); err == nil {
		m.ID = existing.ID
	} else {
		m.ID = tx.repo.nextID()
	}
	tx.repo.state.matches[m.ID] = m
	return m.ID, nil
}

// ============================================================================
// FAKES
// ============================================================================

type auditRecorder struct {
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type approvalHistory struct {
	logs []shared.ApprovalLog
}

func (h *approvalHistory) Record(_ context.Context, log shared.ApprovalLog) error {
	h.logs = append(h.logs, log)
	return nil
}

func (h *approvalHistory) History(_ context.Context, module string, id int64) ([]shared.ApprovalLog, error) {
	ref := shared.ApprovalRef(module, id)
	var out []shared.ApprovalLog
	for _, l := range h.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func receiptKey(number string) string {
	return idempotencyModuleReceipt + ":" + number
}

type eventSink struct {
	receipts []GoodsReceiptPostedEvent
	bills    []VendorBillRecordedEvent
	err      error
}

func (s *eventSink) HandleGoodsReceiptPosted(_ context.Context, evt GoodsReceiptPostedEvent) error {
	s.receipts = append(s.receipts, evt)
	return s.err
}

func (s *eventSink) HandleVendorBillRecorded(_ context.Context, evt VendorBillRecordedEvent) error {
	s.bills = append(s.bills, evt)
	return s.err
}

type transitionCounter struct {
	seen []string
}

func (c *transitionCounter) ObserveTransition(entity, from, to string) {
	c.seen = append(c.seen, entity+":"+from+"->"+to)
}
