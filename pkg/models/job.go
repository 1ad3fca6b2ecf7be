package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

const (
	DataTierCompact = "compact"
	DataTierFull    = "full"
)

// Error stages recorded on a failed job. Each names the part of execution
// that produced the failure.
const (
	ErrorStageResourceKey = "resource_key"
	ErrorStageProcessor   = "processor"
	ErrorStageValidation  = "result_validation"
	ErrorStagePersistence = "persistence"
)

// Error codes recorded on a failed job.
const (
	ErrorCodeProcessorTimeout = "PROCESSOR_TIMEOUT"
	ErrorCodeProcessorError   = "PROCESSOR_ERROR"
	ErrorCodeValidationFailed = "VALIDATION_FAILED"
	ErrorCodePersistenceError = "PERSISTENCE_ERROR"
	ErrorCodeResourceKeyError = "RESOURCE_KEY_ERROR"
)

// Job tracks one pipeline execution against a content item. The job row is
// the authoritative status source; the content_status table only carries a
// projection of it. At most one job per resource key is non-terminal at a
// time, enforced by a partial unique index.
type Job struct {
	ID              uuid.UUID      `db:"id"               json:"id"`
	ResourceKey     string         `db:"resource_key"     json:"resource_key"`
	ContentID       uuid.UUID      `db:"content_id"       json:"content_id"`
	Status          string         `db:"status"           json:"status"`
	PipelineVersion string         `db:"pipeline_version" json:"pipeline_version"`
	DataTier        string         `db:"data_tier"        json:"data_tier"`
	IdempotencyKey  *string        `db:"idempotency_key"  json:"idempotency_key,omitempty"`
	CancelRequested bool           `db:"cancel_requested" json:"cancel_requested"`
	ErrorCode       *string        `db:"error_code"       json:"error_code,omitempty"`
	ErrorStage      *string        `db:"error_stage"      json:"error_stage,omitempty"`
	ErrorMessage    *string        `db:"error_message"    json:"error_message,omitempty"`
	Metadata        map[string]any `db:"metadata"         json:"metadata,omitempty"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
	StartedAt       *time.Time     `db:"started_at"       json:"started_at,omitempty"`
	FinishedAt      *time.Time     `db:"finished_at"      json:"finished_at,omitempty"`
	UpdatedAt       time.Time      `db:"updated_at"       json:"updated_at"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// IsTerminalStatus reports whether a status string names a final state.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether a status string is one of the known states.
func ValidStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
