package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-nz/print-agent/internal/api"
	"github.com/pizza-nz/print-agent/internal/models"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// JobHistory lists past print attempts
type JobHistory interface {
	ListRecent(ctx context.Context, limit int) ([]models.PrintResult, error)
}

// JobHandler exposes the print history
type JobHandler struct {
	history JobHistory
}

// NewJobHandler creates a new job handler
func NewJobHandler(history JobHistory) *JobHandler {
	return &JobHandler{history: history}
}

func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Get("/print-jobs", h.ListJobs)
}

// ListJobs returns the most recent print jobs, newest first
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.BadRequest(w, "limit must be a positive number")
			return
		}
		limit = min(n, maxJobLimit)
	}

	jobs, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		api.Fail(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, jobs)
}
