package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(cfg *Config) (http.Handler, *observability.Metrics) {
	logger := discardLogger()
	metrics := observability.NewMetrics()
	svc := inventory.NewService(inventorytest.NewStore(), inventory.NewLedger(nil), nil, metrics, logger)
	return NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, svc),
		JobHandler:       jobs.NewHandler(nil, logger),
		Metrics:          metrics,
	}), metrics
}

func get(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterMountsModules(t *testing.T) {
	h, _ := newTestRouter(&Config{TestMode: true})

	rec := get(h, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusOK, get(h, "/inventory/batches", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, "/jobs/health", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/procurement/purchase-orders", nil).Code)

	rec = get(h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `odyssey_http_requests_total{code="200",route="/inventory/batches"} 1`)
}

func TestRouterRateLimit(t *testing.T) {
	h, _ := newTestRouter(&Config{AppRateLimit: 2})
	assert.Equal(t, http.StatusOK, get(h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/healthz", nil).Code)
}

func TestActorMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(ActorMiddleware(discardLogger()))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strconv.FormatInt(shared.ActorFromContext(r.Context()), 10)))
	})

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"anonymous", "", http.StatusOK, "0"},
		{"actor", "42", http.StatusOK, "42"},
		{"padded", " 7 ", http.StatusOK, "7"},
		{"not a number", "alice", http.StatusBadRequest, ""},
		{"negative", "-3", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set(ActorHeader, tc.header)
			}
			rec := get(r, "/whoami", header)
			require.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}
