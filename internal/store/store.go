package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a requested status change is not
// reachable from the job's current status. Terminal states never transition.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through
// here; it is the only mutable shared state in the system.
type Store interface {
	Ping(ctx context.Context) error

	// CreateJobIfAbsent atomically inserts a pending job unless an active
	// (non-terminal) job already exists for the same resource key, or a job
	// already carries the same idempotency key. The bool reports whether a
	// new row was inserted; when false, the returned job is the existing one.
	CreateJobIfAbsent(ctx context.Context, job *models.Job) (*models.Job, bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetLatestJobByResourceKey(ctx context.Context, resourceKey string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)

	// TransitionJob moves a job to the next status, setting started_at and
	// finished_at exactly once as dictated by the state machine. Returns
	// ErrInvalidTransition when next is unreachable from the current status.
	TransitionJob(ctx context.Context, id uuid.UUID, next string, opts ...TransitionOption) (*models.Job, error)

	// RequestCancel cancels a pending job outright, or flags a processing
	// job for the cooperative check at the next stage boundary. The bool
	// reports whether the job actually moved to cancelled.
	RequestCancel(ctx context.Context, id uuid.UUID) (*models.Job, bool, error)

	// PurgeExpiredJobs deletes terminal jobs of a tier whose finished_at is
	// before the cutoff. Idempotent; a clean table returns 0.
	PurgeExpiredJobs(ctx context.Context, tier string, cutoff time.Time) (int64, error)

	CreateProcessingResult(ctx context.Context, result *models.ProcessingResult) error
	GetProcessingResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.ProcessingResult, error)

	// UpsertContentStatus writes the last-write-wins projection of the
	// latest job outcome onto the content record.
	UpsertContentStatus(ctx context.Context, status *models.ContentStatus) error
	GetContentStatus(ctx context.Context, contentID uuid.UUID) (*models.ContentStatus, error)
}

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	ContentID uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

// TransitionParams collects the optional fields of a transition. Exported
// so alternate Store implementations (including test fakes) can apply the
// same options.
type TransitionParams struct {
	ErrorCode    *string
	ErrorStage   *string
	ErrorMessage *string
}

type TransitionOption func(*TransitionParams)

// NewTransitionParams folds options into a TransitionParams.
func NewTransitionParams(opts ...TransitionOption) *TransitionParams {
	params := &TransitionParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// maxErrorMessageLen bounds the human-readable detail stored on a failed job.
const maxErrorMessageLen = 2000

// WithFailure records the error taxonomy on a transition into failed.
func WithFailure(code, stage, message string) TransitionOption {
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	return func(p *TransitionParams) {
		p.ErrorCode = &code
		p.ErrorStage = &stage
		p.ErrorMessage = &message
	}
}
