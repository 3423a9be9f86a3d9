// Package handlers contains the admin HTTP handlers mounted under /v1.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"habitly/internal/core"
	"habitly/internal/queue"
	"habitly/internal/scheduler"
	"habitly/internal/types"
)

// Ticker runs one due-check pass unless another is in progress.
type Ticker interface {
	TryTick(ctx context.Context) (scheduler.TickSummary, error)
}

// JobInspector reads the delivery queue.
type JobInspector interface {
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	Counts(ctx context.Context) (map[queue.State]int64, error)
}

var (
	_ Ticker       = (*scheduler.DueChecker)(nil)
	_ JobInspector = (*queue.Queue)(nil)
)

// QueueStatsResponse is the body of GET /v1/admin/queue.
type QueueStatsResponse struct {
	Queue  string                `json:"queue"`
	Counts map[queue.State]int64 `json:"counts"`
}

// AdminHandler exposes on-demand ticks and queue inspection.
type AdminHandler struct {
	ticker    Ticker
	jobs      JobInspector
	queueName string
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler. ticker or jobs may be nil when
// the process does not own them; the affected routes then answer 503.
func NewAdminHandler(ticker Ticker, jobs JobInspector, queueName string, l *slog.Logger) *AdminHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AdminHandler{ticker: ticker, jobs: jobs, queueName: queueName, logger: l}
}

// RegisterRoutes mounts the admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reminders/run", h.RunReminders)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/queue", h.QueueStats)
	})
}

// RunReminders handles POST /v1/admin/reminders/run.
func (h *AdminHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	if h.ticker == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeServiceDisabled, "scheduler is disabled", nil))
		return
	}

	summary, err := h.ticker.TryTick(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("manual reminder tick",
		"tick_id", summary.TickID,
		"due", summary.Due,
		"failed", summary.Failed,
		"request_id", types.GetRequestID(r.Context()),
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// GetJob handles GET /v1/admin/jobs/{id}.
func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeServiceDisabled, "queue is not configured", nil))
		return
	}

	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: job})
}

// QueueStats handles GET /v1/admin/queue.
func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeServiceDisabled, "queue is not configured", nil))
		return
	}

	counts, err := h.jobs.Counts(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: QueueStatsResponse{Queue: h.queueName, Counts: counts}})
}
