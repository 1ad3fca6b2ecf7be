package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// Index names referenced when dispatching unique-violation errors. Must
// match the migrations.
const (
	activeResourceKeyIdx = "jobs_active_resource_key_idx"
	idempotencyKeyIdx    = "jobs_idempotency_key_idx"
)

const jobColumns = `id, resource_key, content_id, status, pipeline_version, data_tier,
	idempotency_key, cancel_requested, error_code, error_stage, error_message,
	metadata, created_at, started_at, finished_at, updated_at`

// transitionSources maps a target status to the statuses it is reachable
// from. Absent targets (pending, unknown strings) are never reachable.
var transitionSources = map[string][]string{
	models.JobStatusProcessing: {models.JobStatusPending},
	models.JobStatusCompleted:  {models.JobStatusProcessing},
	models.JobStatusFailed:     {models.JobStatusProcessing},
	models.JobStatusCancelled:  {models.JobStatusPending, models.JobStatusProcessing},
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ResourceKey, &j.ContentID, &j.Status, &j.PipelineVersion,
		&j.DataTier, &j.IdempotencyKey, &j.CancelRequested, &j.ErrorCode, &j.ErrorStage,
		&j.ErrorMessage, &j.Metadata, &j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJobIfAbsent(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	// Insert-first: the partial unique indexes arbitrate races, so two
	// simultaneous submissions for the same key yield exactly one insert.
	// The retry covers the window where a conflicting active job reaches a
	// terminal state between our failed insert and the follow-up select.
	for attempt := 0; attempt < 2; attempt++ {
		inserted, err := s.insertJob(ctx, job)
		if err == nil {
			return inserted, true, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return nil, false, fmt.Errorf("create job: %w", err)
		}

		switch pgErr.ConstraintName {
		case idempotencyKeyIdx:
			existing, lookupErr := s.getJobByIdempotencyKey(ctx, *job.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("lookup job by idempotency key: %w", lookupErr)
			}
			return existing, false, nil
		case activeResourceKeyIdx:
			existing, lookupErr := s.getActiveJobByResourceKey(ctx, job.ResourceKey)
			if errors.Is(lookupErr, ErrNotFound) {
				continue
			}
			if lookupErr != nil {
				return nil, false, fmt.Errorf("lookup active job: %w", lookupErr)
			}
			return existing, false, nil
		default:
			return nil, false, ErrDuplicateKey
		}
	}
	return nil, false, ErrDuplicateKey
}

func (s *PostgresStore) insertJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, resource_key, content_id, status, pipeline_version, data_tier,
		   idempotency_key, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+jobColumns,
		job.ID, job.ResourceKey, job.ContentID, models.JobStatusPending, job.PipelineVersion,
		job.DataTier, job.IdempotencyKey, job.Metadata, job.CreatedAt, job.UpdatedAt)
	return scanJob(row)
}

func (s *PostgresStore) getJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *PostgresStore) getActiveJobByResourceKey(ctx context.Context, resourceKey string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE resource_key = $1 AND status IN ($2, $3)`,
		resourceKey, models.JobStatusPending, models.JobStatusProcessing)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetLatestJobByResourceKey(ctx context.Context, resourceKey string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE resource_key = $1 ORDER BY created_at DESC LIMIT 1`, resourceKey)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job by resource key: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.ContentID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("content_id = $%d", argIdx))
		args = append(args, filter.ContentID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
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

	dataQuery := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, next string, opts ...TransitionOption) (*models.Job, error) {
	params := NewTransitionParams(opts...)

	sources, ok := transitionSources[next]
	if !ok {
		return nil, fmt.Errorf("%w: no transition into %q", ErrInvalidTransition, next)
	}

	// One conditional UPDATE guarded by the allowed source states keeps
	// transitions for a single job totally ordered: concurrent writers race
	// on the status predicate, and the loser sees zero rows.
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET
		   status = $2,
		   updated_at = NOW(),
		   started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN NOW() ELSE started_at END,
		   finished_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') AND finished_at IS NULL THEN NOW() ELSE finished_at END,
		   error_code = COALESCE($3, error_code),
		   error_stage = COALESCE($4, error_stage),
		   error_message = COALESCE($5, error_message)
		 WHERE id = $1 AND status = ANY($6)
		 RETURNING `+jobColumns,
		id, next, params.ErrorCode, params.ErrorStage, params.ErrorMessage, sources)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}
	if err != nil {
		return nil, fmt.Errorf("transition job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id uuid.UUID) (*models.Job, bool, error) {
	// Pending jobs cancel outright.
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $2, finished_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $3
		 RETURNING `+jobColumns,
		id, models.JobStatusCancelled, models.JobStatusPending)
	j, err := scanJob(row)
	if err == nil {
		return j, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("cancel pending job: %w", err)
	}

	// Processing jobs get the cooperative flag; the execution honors it at
	// the next stage boundary, if one remains.
	row = s.pool.QueryRow(ctx,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = NOW()
		 WHERE id = $1 AND status = $2
		 RETURNING `+jobColumns,
		id, models.JobStatusProcessing)
	j, err = scanJob(row)
	if err == nil {
		return j, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("flag processing job: %w", err)
	}

	// Already terminal: report the state unchanged.
	j, getErr := s.GetJob(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	return j, false, nil
}

func (s *PostgresStore) PurgeExpiredJobs(ctx context.Context, tier string, cutoff time.Time) (int64, error) {
	// finished_at is only ever set on terminal rows, so this never touches
	// an active job.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE data_tier = $1 AND finished_at IS NOT NULL AND finished_at < $2`,
		tier, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Processing results ---

func (s *PostgresStore) CreateProcessingResult(ctx context.Context, result *models.ProcessingResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_results (id, job_id, content_id, summary, tags, entity_count, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		result.ID, result.JobID, result.ContentID, result.Summary, result.Tags,
		result.EntityCount, result.Model, result.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create processing result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProcessingResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.ProcessingResult, error) {
	var r models.ProcessingResult
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, content_id, summary, tags, entity_count, model, created_at
		 FROM processing_results WHERE job_id = $1`, jobID,
	).Scan(&r.ID, &r.JobID, &r.ContentID, &r.Summary, &r.Tags, &r.EntityCount, &r.Model, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get processing result by job: %w", err)
	}
	return &r, nil
}

// --- Content status projection ---

func (s *PostgresStore) UpsertContentStatus(ctx context.Context, status *models.ContentStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO content_status (content_id, last_job_id, status, pipeline_version, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (content_id) DO UPDATE SET
		   last_job_id = EXCLUDED.last_job_id,
		   status = EXCLUDED.status,
		   pipeline_version = EXCLUDED.pipeline_version,
		   updated_at = NOW()`,
		status.ContentID, status.LastJobID, status.Status, status.PipelineVersion)
	if err != nil {
		return fmt.Errorf("upsert content status: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContentStatus(ctx context.Context, contentID uuid.UUID) (*models.ContentStatus, error) {
	var c models.ContentStatus
	err := s.pool.QueryRow(ctx,
		`SELECT content_id, last_job_id, status, pipeline_version, updated_at
		 FROM content_status WHERE content_id = $1`, contentID,
	).Scan(&c.ContentID, &c.LastJobID, &c.Status, &c.PipelineVersion, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content status: %w", err)
	}
	return &c, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
