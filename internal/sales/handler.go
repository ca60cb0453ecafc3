package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// Handler exposes the sales order lifecycle over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.handleCreate)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/invoices", h.handleListInvoices)
		r.Post("/confirm", h.handleConfirm)
		r.Post("/fulfill", h.handleFulfill)
		r.Post("/invoice", h.handleInvoice)
		r.Post("/returns", h.handleReturn)
		r.Post("/cancel", h.handleCancel)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSalesOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.CreateSalesOrder(r.Context(), req)
	if err != nil {
		h.fail(w, "create sales order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetSalesOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get sales order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), id)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, allocs, err := h.service.ConfirmSalesOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "confirm sales order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ConfirmResult{Order: order, Allocations: allocs})
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req FulfillRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, movements, err := h.service.FulfillSalesOrder(r.Context(), id, req.WarehouseID)
	if err != nil {
		h.fail(w, "fulfill sales order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, FulfillResult{Order: order, Movements: movements})
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.GenerateInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "generate invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req ReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	credit, movements, err := h.service.ProcessReturn(r.Context(), id, req.Lines, req.WarehouseID)
	if err != nil {
		h.fail(w, "process return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ReturnResult{CreditNote: credit, Movements: movements})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.CancelSalesOrder(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, "cancel sales order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
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

var errBadID = errors.New("invalid sales order id")

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", errBadID.Error())
		return 0, false
	}
	return id, true
}
