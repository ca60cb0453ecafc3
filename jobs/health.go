package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// QueueInspector reads queue statistics; *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth summarises one queue.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Scheduled int    `json:"scheduled"`
}

// Health is the /jobs/health body.
type Health struct {
	Queues []QueueHealth `json:"queues"`
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := Health{Queues: make([]QueueHealth, 0, 2)}
	for _, queue := range []string{QueueMatching, QueueMaintenance} {
		qh := QueueHealth{Queue: queue}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(queue)
			switch {
			case errors.Is(err, asynq.ErrQueueNotFound):
				// nothing enqueued yet
			case err != nil:
				h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue unavailable")
				return
			case info != nil:
				qh.Pending, qh.Active, qh.Retry = info.Pending, info.Active, info.Retry
				qh.Archived, qh.Scheduled = info.Archived, info.Scheduled
			}
		}
		out.Queues = append(out.Queues, qh)
	}
	httpx.JSON(w, http.StatusOK, out)
}
