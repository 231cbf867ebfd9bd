package http

import (
	"context"
	"net/http"
	"time"

	"flowly/internal/interfaces/scheduler"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerStatus reports the scheduler's lifecycle for health checks.
type SchedulerStatus interface {
	State() scheduler.State
	NextRun() time.Time
}

type HealthHandler struct {
	storage   Pinger
	scheduler SchedulerStatus
}

func NewHealthHandler(storage Pinger, sched SchedulerStatus) *HealthHandler {
	return &HealthHandler{storage: storage, scheduler: sched}
}

type HealthResponse struct {
	Status    string     `json:"status"`
	Storage   string     `json:"storage"`
	Scheduler string     `json:"scheduler"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Storage: "ok", Scheduler: h.scheduler.State().String()}
	if next := h.scheduler.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	if err := h.storage.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Storage = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
