package models

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Typed failures every Processor implementation maps its errors onto. The
// orchestrator classifies them into the error taxonomy on the job row.
var (
	ErrProcessorUnavailable = errors.New("processor unavailable")
	ErrProcessorTimeout     = errors.New("processor timeout")
	ErrProcessorBadResponse = errors.New("processor returned invalid response")
)

// ProcessRequest is the input handed to a Processor for one job.
type ProcessRequest struct {
	JobID           uuid.UUID      `json:"job_id"`
	ContentID       uuid.UUID      `json:"content_id"`
	ResourceKey     string         `json:"resource_key"`
	PipelineVersion string         `json:"pipeline_version"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ResultSummary is the compact outcome of a pipeline run: what the
// content-understanding stage produced, reduced to what callers and
// callback receivers need.
type ResultSummary struct {
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags,omitempty"`
	EntityCount int      `json:"entity_count"`
	Model       string   `json:"model,omitempty"`
}

// Processor is the content-understanding stage. Implementations must be
// safe for concurrent use up to the configured concurrency limit.
type Processor interface {
	// Process runs the pipeline stage for one job. Failures map onto the
	// ErrProcessor* sentinels above.
	Process(ctx context.Context, req ProcessRequest) (*ResultSummary, error)

	// Name returns the processor identifier, e.g. "remote" or "mock".
	Name() string
}
