package sales

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	r.Route("/sales", h.MountRoutes)
	return f, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerOrderLifecycle(t *testing.T) {
	f, h := newTestRouter(t)
	f.stock.Seed(inventory.Batch{ProductID: 5, WarehouseID: 1, BatchNumber: "A", Quantity: dec("10")})

	rec := do(t, h, http.MethodPost, "/sales/orders",
		`{"customer_id":1,"warehouse_id":1,"currency":"USD","items":[{"product_id":5,"quantity":"2","unit_price":"3.5"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order SalesOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, OrderStatusDraft, order.Status)

	base := fmt.Sprintf("/sales/orders/%d", order.ID)
	rec = do(t, h, http.MethodPost, base+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed ConfirmResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	require.Len(t, confirmed.Allocations, 1)

	rec = do(t, h, http.MethodPost, base+"/confirm", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusConflict, problem.Status)

	rec = do(t, h, http.MethodPost, base+"/fulfill", `{"warehouse_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, base+"/invoice", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, base+"/invoice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/returns", `{"warehouse_id":1,"lines":[{"product_id":5,"quantity":"9"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, h, http.MethodPost, base+"/returns", `{"warehouse_id":1,"lines":[{"product_id":5,"quantity":"1"}]}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, base+"/invoices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoices))
	assert.Len(t, invoices, 2)
}

func TestHandlerErrorMapping(t *testing.T) {
	f, h := newTestRouter(t)
	f.stock.Seed(inventory.Batch{ProductID: 5, WarehouseID: 1, BatchNumber: "A", Quantity: dec("1")})

	rec := do(t, h, http.MethodGet, "/sales/orders/77", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/sales/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/sales/orders", `{"customer_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/sales/orders", `{not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	order := f.order(t, item(5, "3", "1"))
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/sales/orders/%d/confirm", order.ID), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/sales/orders/%d/cancel", order.ID), `{"reason":"no stock"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
