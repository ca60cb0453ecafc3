package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/requests", h.createPR)
	r.Route("/requests/{id}", func(r chi.Router) {
		r.Get("/", h.getPR)
		r.Get("/approvals", h.listApprovals)
		r.Get("/history", h.requestHistory)
		r.Post("/submit", h.submitPR)
		r.Post("/approvals/{level}/approve", h.approveLevel)
		r.Post("/approvals/{level}/reject", h.rejectLevel)
		r.Post("/convert", h.convertPR)
	})

	r.Post("/orders", h.createPO)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getPO)
		r.Patch("/", h.updatePO)
		r.Get("/match", h.getMatch)
		r.Post("/match", h.matchPO)
	})

	r.Post("/receipts", h.createReceipt)
	r.Get("/receipts/{id}", h.getReceipt)
	r.Post("/receipts/{id}/post", h.postReceipt)

	r.Post("/bills", h.createBill)
	r.Post("/bills/{id}/void", h.voidBill)

	r.Post("/matches/{id}/resolve", h.resolveMatch)
}

// ============================================================================
// PURCHASE REQUESTS
// ============================================================================

func (h *Handler) createPR(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequestInput
	if !h.decode(w, r, &req) {
		return
	}
	pr, err := h.service.CreatePurchaseRequest(r.Context(), req)
	if err != nil {
		h.fail(w, "create purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) getPR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pr, err := h.service.GetPurchaseRequest(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	approvals, err := h.service.ListApprovals(r.Context(), id)
	if err != nil {
		h.fail(w, "list approvals", err)
		return
	}
	if approvals == nil {
		approvals = []PRApproval{}
	}
	httpx.JSON(w, http.StatusOK, approvals)
}

func (h *Handler) requestHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	logs, err := h.service.RequestHistory(r.Context(), id)
	if err != nil {
		h.fail(w, "request history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) submitPR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pr, approvals, err := h.service.SubmitPurchaseRequest(r.Context(), id)
	if err != nil {
		h.fail(w, "submit purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, SubmitResult{Request: pr, Approvals: approvals})
}

func (h *Handler) approveLevel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	var req ApproveLevelRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	pr, approval, complete, err := h.service.ApproveLevel(r.Context(), id, level, req.ApproverID)
	if err != nil {
		h.fail(w, "approve purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ApproveResult{Request: pr, Approval: approval, FullyApproved: complete})
}

func (h *Handler) rejectLevel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	var req RejectLevelRequest
	if !h.decode(w, r, &req) {
		return
	}
	pr, approval, err := h.service.RejectLevel(r.Context(), id, level, req.ApproverID, req.Comments)
	if err != nil {
		h.fail(w, "reject purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ApproveResult{Request: pr, Approval: approval})
}

func (h *Handler) convertPR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ConvertPurchaseRequestInput
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.ConvertToPurchaseOrder(r.Context(), id, req)
	if err != nil {
		h.fail(w, "convert purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

// ============================================================================
// PURCHASE ORDERS
// ============================================================================

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseOrderInput
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), req)
	if err != nil {
		h.fail(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req PurchaseOrderUpdate
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.UpdatePurchaseOrder(r.Context(), id, req)
	if err != nil {
		h.fail(w, "update purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.GetMatch(r.Context(), id)
	if err != nil {
		h.fail(w, "get match", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) matchPO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.PerformThreeWayMatch(r.Context(), id)
	if err != nil {
		h.fail(w, "three-way match", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// ============================================================================
// RECEIPTS, BILLS, MATCHES
// ============================================================================

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req CreateGoodsReceiptInput
	if !h.decode(w, r, &req) {
		return
	}
	gr, err := h.service.CreateGoodsReceipt(r.Context(), req)
	if err != nil {
		h.fail(w, "create goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	gr, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "get goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	gr, err := h.service.PostGoodsReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "post goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	var req CreateVendorBillInput
	if !h.decode(w, r, &req) {
		return
	}
	bill, err := h.service.CreateVendorBill(r.Context(), req)
	if err != nil {
		h.fail(w, "create vendor bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) voidBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bill, err := h.service.VoidVendorBill(r.Context(), id)
	if err != nil {
		h.fail(w, "void vendor bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) resolveMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ResolveMatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ResolveException(r.Context(), id, req.ResolverID, req.Notes)
	if err != nil {
		h.fail(w, "resolve match exception", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
	} else {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

var (
	errBadID    = errors.New("invalid id")
	errBadLevel = errors.New("invalid approval level")
)

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", errBadID.Error())
		return 0, false
	}
	return id, true
}

func pathLevel(w http.ResponseWriter, r *http.Request) (int, bool) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", errBadLevel.Error())
		return 0, false
	}
	return level, true
}
