package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/api/response"
	"github.com/kiranshivaraju/contentpipe/internal/pipeline"
)

// SubmitService is the slice of the orchestrator the reprocess handler
// depends on.
type SubmitService interface {
	Submit(ctx context.Context, params pipeline.SubmitParams) (*pipeline.SubmitOutcome, error)
}

// NewReprocessHandler returns the handler for
// POST /api/v1/content/{contentID}/reprocess.
func NewReprocessHandler(svc SubmitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID, err := uuid.Parse(chi.URLParam(r, "contentID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "contentID must be a valid UUID", nil)
			return
		}

		var req struct {
			SourceURL      string         `json:"source_url"`
			ExternalKind   string         `json:"external_kind"`
			ExternalID     string         `json:"external_id"`
			DataTier       string         `json:"data_tier"`
			IdempotencyKey string         `json:"idempotency_key"`
			Metadata       map[string]any `json:"metadata"`
			Force          bool           `json:"force"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		params := pipeline.SubmitParams{
			ContentID:    contentID,
			SourceURL:    req.SourceURL,
			ExternalKind: req.ExternalKind,
			ExternalID:   req.ExternalID,
			DataTier:     req.DataTier,
			Metadata:     req.Metadata,
			Force:        req.Force,
		}
		if req.IdempotencyKey != "" {
			params.IdempotencyKey = &req.IdempotencyKey
		}

		outcome, err := svc.Submit(r.Context(), params)
		if err != nil {
			if errors.Is(err, pipeline.ErrInvalidSubmission) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "SUBMIT_FAILED",
				"Could not record the submission", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id":       outcome.Job.ID,
			"status":       outcome.Status(),
			"job_status":   outcome.Job.Status,
			"resource_key": outcome.Job.ResourceKey,
		})
	}
}
