package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentStatus is the read-optimized projection of the latest job outcome
// onto a content item. Never authoritative; the job row is.
type ContentStatus struct {
	ContentID       uuid.UUID `db:"content_id"       json:"content_id"`
	LastJobID       uuid.UUID `db:"last_job_id"      json:"last_job_id"`
	Status          string    `db:"status"           json:"status"`
	PipelineVersion string    `db:"pipeline_version" json:"pipeline_version"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}
