package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/api/response"
	"github.com/kiranshivaraju/contentpipe/internal/cache"
	"github.com/kiranshivaraju/contentpipe/internal/store"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// resultCacheTTL bounds the cached verbose result payload.
const resultCacheTTL = 10 * time.Minute

// JobReader is the slice of the store the read handlers depend on.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetProcessingResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.ProcessingResult, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

// jobView is the minimal job representation returned by default.
type jobView struct {
	ID              uuid.UUID  `json:"id"`
	ResourceKey     string     `json:"resource_key"`
	ContentID       uuid.UUID  `json:"content_id"`
	Status          string     `json:"status"`
	PipelineVersion string     `json:"pipeline_version"`
	DataTier        string     `json:"data_tier"`
	ErrorCode       *string    `json:"error_code,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// verboseJobView adds the diagnostic fields and the persisted result.
type verboseJobView struct {
	jobView
	ErrorStage      *string                  `json:"error_stage,omitempty"`
	ErrorMessage    *string                  `json:"error_message,omitempty"`
	CancelRequested bool                     `json:"cancel_requested"`
	Metadata        map[string]any           `json:"metadata,omitempty"`
	Result          *models.ProcessingResult `json:"result,omitempty"`
}

func minimalView(job *models.Job) jobView {
	return jobView{
		ID:              job.ID,
		ResourceKey:     job.ResourceKey,
		ContentID:       job.ContentID,
		Status:          job.Status,
		PipelineVersion: job.PipelineVersion,
		DataTier:        job.DataTier,
		ErrorCode:       job.ErrorCode,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
// The verbose view is only available for full-tier jobs and every access to
// it is written to the audit log.
func NewGetJobHandler(st JobReader, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job with that id", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "STORE_ERROR", "Could not load the job", nil)
			return
		}

		verbose, _ := strconv.ParseBool(r.URL.Query().Get("verbose"))
		if !verbose {
			response.JSON(w, minimalView(job))
			return
		}

		if job.DataTier != models.DataTierFull {
			response.Error(w, http.StatusForbidden, "TIER_FORBIDDEN",
				"Verbose view is only available for full-tier jobs", nil)
			return
		}

		slog.Info("audit: verbose job view accessed",
			"job_id", job.ID,
			"content_id", job.ContentID,
			"remote_addr", r.RemoteAddr,
		)

		view := verboseJobView{
			jobView:         minimalView(job),
			ErrorStage:      job.ErrorStage,
			ErrorMessage:    job.ErrorMessage,
			CancelRequested: job.CancelRequested,
			Metadata:        job.Metadata,
		}
		view.Result = loadResult(r.Context(), st, ca, job)

		response.JSON(w, view)
	}
}

// loadResult fetches the persisted result, serving from the cache when it
// can. A missing result is normal for jobs that have not completed.
func loadResult(ctx context.Context, st JobReader, ca cache.Cache, job *models.Job) *models.ProcessingResult {
	key := cache.JobResultKey(job.ID)
	if raw, ok, err := ca.Get(ctx, key); err == nil && ok {
		var cached models.ProcessingResult
		if json.Unmarshal(raw, &cached) == nil {
			return &cached
		}
	}

	result, err := st.GetProcessingResultByJobID(ctx, job.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Warn("load processing result", "job_id", job.ID, "error", err)
		return nil
	}

	if raw, err := json.Marshal(result); err == nil {
		_ = ca.Set(ctx, key, raw, resultCacheTTL)
	}
	return result
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(st JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobFilter{}

		if v := r.URL.Query().Get("content_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content_id must be a valid UUID", nil)
				return
			}
			filter.ContentID = id
		}
		if v := r.URL.Query().Get("status"); v != "" {
			if !models.ValidStatus(v) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown status filter", nil)
				return
			}
			filter.Status = v
		}
		filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
		filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

		jobs, total, err := st.ListJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "STORE_ERROR", "Could not list jobs", nil)
			return
		}

		views := make([]jobView, 0, len(jobs))
		for _, job := range jobs {
			views = append(views, minimalView(job))
		}

		limit := filter.Limit
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}

		response.Collection(w, views, response.PaginationMeta{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		})
	}
}
