package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingResult is the persisted outcome of a completed job. One row per
// job; deleted with its job when the retention purge removes the job row.
type ProcessingResult struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	JobID       uuid.UUID `db:"job_id"       json:"job_id"`
	ContentID   uuid.UUID `db:"content_id"   json:"content_id"`
	Summary     string    `db:"summary"      json:"summary"`
	Tags        []string  `db:"tags"         json:"tags,omitempty"`
	EntityCount int       `db:"entity_count" json:"entity_count"`
	Model       string    `db:"model"        json:"model,omitempty"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
