package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Worker runs match and maintenance handlers plus their cron schedule.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	// Queues overrides QueuePriorities when set.
	Queues   map[string]int
	Handlers []TaskHandler
	Cron     []CronRegistration
}

// NewWorker validates the registrations and builds the server. Duplicate or
// empty registrations are configuration errors rather than silent skips.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker"))
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = QueuePriorities()
	}

	mux := asynq.NewServeMux()
	seen := make(map[string]bool, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("worker: incomplete handler registration %q", h.Type)
		}
		if seen[h.Type] {
			return nil, fmt.Errorf("worker: handler %q registered twice", h.Type)
		}
		seen[h.Type] = true
		mux.HandleFunc(h.Type, h.Handler)
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          queues,
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler:    asynq.ErrorHandlerFunc(failureLogger(logger)),
	})

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				return nil, errors.New("worker: cron entry needs a spec and a task")
			}
			if !seen[entry.Task.Type()] {
				return nil, fmt.Errorf("worker: cron task %q has no handler", entry.Task.Type())
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, fmt.Errorf("worker: register cron %q: %w", entry.Spec, err)
			}
			logger.Info("cron registered", slog.String("task", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("entry", id))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// failureLogger reports failed attempts; the final attempt is logged at error
// level because asynq archives the task afterwards.
func failureLogger(logger *slog.Logger) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		attrs := []any{
			slog.String("type", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err),
		}
		if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
			logger.Error("task archived", attrs...)
			return
		}
		logger.Warn("task failed", attrs...)
	}
}

// Run processes tasks until ctx is cancelled or the server stops.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.logger.Info("worker started")
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		w.logger.Info("worker stopped")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
