package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.handleListBatches)
	r.Get("/movements", h.handleListMovements)
	r.Get("/available", h.handleAvailable)
	r.Post("/allocations/preview", h.handlePreview)
	r.Post("/adjustments", h.handleAdjustment)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := BatchFilter{
		ProductID:      queryInt(q.Get("product_id")),
		WarehouseID:    queryInt(q.Get("warehouse_id")),
		IncludeEmpty:   q.Get("include_empty") == "true",
		IncludeExpired: q.Get("include_expired") == "true",
	}
	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		ProductID:   queryInt(q.Get("product_id")),
		WarehouseID: queryInt(q.Get("warehouse_id")),
		BatchID:     queryInt(q.Get("batch_id")),
		Reference:   q.Get("reference"),
		Limit:       int(queryInt(q.Get("limit"))),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, warehouseID := queryInt(q.Get("product_id")), queryInt(q.Get("warehouse_id"))
	qty, err := h.service.Available(r.Context(), productID, warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"warehouse_id": warehouseID,
		"available":    qty,
	})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req AllocationPreviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	allocs, err := h.service.PreviewAllocation(r.Context(), AllocationRequest{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Policy:      req.Policy,
		BatchID:     req.BatchID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allocs)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, mv, err := h.service.AdjustBatch(r.Context(), AdjustmentInput{
		BatchID:   req.BatchID,
		Delta:     req.Delta,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Warn("adjustment rejected", slog.Int64("batch_id", req.BatchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, AdjustmentResponse{Batch: batch, Movement: mv})
}

func queryInt(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
