package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/api/response"
	"github.com/kiranshivaraju/contentpipe/internal/store"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// CancelService is the slice of the orchestrator the cancel handler
// depends on.
type CancelService interface {
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, bool, error)
}

// NewCancelJobHandler returns the handler for
// POST /api/v1/jobs/{jobID}/cancel. Cancellation is best-effort: a job
// already inside the processor call finishes normally and the response
// reports cancelled=false.
func NewCancelJobHandler(svc CancelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, cancelled, err := svc.Cancel(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job with that id", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "CANCEL_FAILED", "Could not cancel the job", nil)
			return
		}

		response.JSON(w, map[string]any{
			"job_id":    job.ID,
			"status":    job.Status,
			"cancelled": cancelled,
		})
	}
}
