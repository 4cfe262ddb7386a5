package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/pulsedesk/pulsedesk/internal/platform/httpx"
)

// Enqueuer submits prepared tasks. *Client is the runtime implementation;
// tests substitute stubs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error)
}

// Handler exposes on-demand triggers for the background tasks, so operators
// can refresh the migration gauge or prune audit logs without waiting for the
// next cron run. Mounted behind the full-access guard.
type Handler struct {
	logger *slog.Logger
	queue  Enqueuer
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, queue Enqueuer) *Handler {
	return &Handler{logger: logger, queue: queue}
}

// MountRoutes registers the task trigger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/migration-refresh", h.trigger(NewMigrationRefreshTask))
	r.Post("/audit-prune", h.trigger(NewAuditPruneTask))
}

func (h *Handler) trigger(build func() *asynq.Task) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task := build()
		info, err := h.queue.Enqueue(r.Context(), task)
		if err != nil {
			h.logger.Error("enqueue task", slog.String("type", task.Type()), slog.Any("error", err))
			httpx.Reject(w, http.StatusInternalServerError, httpx.CodeInternalError, "Could not queue the task")
			return
		}
		httpx.OK(w, http.StatusAccepted, map[string]any{
			"id":    info.ID,
			"type":  task.Type(),
			"queue": info.Queue,
		})
	}
}
