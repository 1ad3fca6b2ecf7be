// Package pipeline coordinates job submission, deduplication, bounded
// execution, and outcome reporting. The orchestrator is the only writer of
// job status; everything else observes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/cache"
	"github.com/kiranshivaraju/contentpipe/internal/metrics"
	"github.com/kiranshivaraju/contentpipe/internal/resourcekey"
	"github.com/kiranshivaraju/contentpipe/internal/store"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// statusCacheTTL bounds how long the Redis status mirror survives without a
// refresh.
const statusCacheTTL = 30 * time.Minute

// Notifier delivers completion events. Implementations never influence job
// status.
type Notifier interface {
	Notify(ctx context.Context, job *models.Job, result *models.ResultSummary) error
}

// StatusProjector mirrors the latest job outcome onto the content record.
type StatusProjector interface {
	Update(ctx context.Context, contentID, jobID uuid.UUID, status, pipelineVersion string) error
}

// SubmitParams is one ingestion or reprocessing request.
type SubmitParams struct {
	ContentID    uuid.UUID
	SourceURL    string
	ExternalKind string
	ExternalID   string
	DataTier     string
	// IdempotencyKey, when set, makes repeated submissions return the
	// original job instead of erroring.
	IdempotencyKey *string
	Metadata       map[string]any
	// Force creates a new job even when the latest job for the resource key
	// already completed.
	Force bool
}

// SubmitOutcome reports what a submission did. Exactly one of the three
// states holds: a job was created, an active job was returned, or a prior
// completed job was returned because Force was not set.
type SubmitOutcome struct {
	Job              *models.Job
	Created          bool
	AlreadyCompleted bool
}

// Status renders the tri-state of the reprocess API.
func (o SubmitOutcome) Status() string {
	switch {
	case o.Created:
		return "submitted"
	case o.AlreadyCompleted:
		return "already_completed"
	default:
		return "already_active"
	}
}

// Orchestrator drives jobs through the state machine. Background work
// (executions, callback deliveries) runs in goroutines tracked by a task
// set so Close can drain them deterministically.
type Orchestrator struct {
	store     store.Store
	cache     cache.Cache
	processor models.Processor
	projector StatusProjector
	notifier  Notifier
	gate      *Gate
	version   string

	runCtx context.Context
	stop   context.CancelFunc
	tasks  sync.WaitGroup
}

func NewOrchestrator(st store.Store, ca cache.Cache, proc models.Processor, proj StatusProjector, notifier Notifier, gate *Gate, pipelineVersion string) *Orchestrator {
	runCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     st,
		cache:     ca,
		processor: proc,
		projector: proj,
		notifier:  notifier,
		gate:      gate,
		version:   pipelineVersion,
		runCtx:    runCtx,
		stop:      stop,
	}
}

// Submit deduplicates and records a unit of work, then schedules its
// execution. It returns as soon as the job row exists; execution continues
// asynchronously. The caller always gets a job back, new or existing.
func (o *Orchestrator) Submit(ctx context.Context, params SubmitParams) (*SubmitOutcome, error) {
	key, err := resourcekey.Derive(resourcekey.Input{
		ExternalKind: params.ExternalKind,
		ExternalID:   params.ExternalID,
		SourceURL:    params.SourceURL,
		ContentID:    params.ContentID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	tier := params.DataTier
	if tier == "" {
		tier = models.DataTierCompact
	}
	if tier != models.DataTierCompact && tier != models.DataTierFull {
		return nil, fmt.Errorf("%w: unknown data tier %q", ErrInvalidSubmission, tier)
	}

	if !params.Force {
		latest, err := o.store.GetLatestJobByResourceKey(ctx, key)
		switch {
		case err == nil && latest.Status == models.JobStatusCompleted:
			return &SubmitOutcome{Job: latest, AlreadyCompleted: true}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("look up prior job: %w", err)
		}
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:              uuid.New(),
		ResourceKey:     key,
		ContentID:       params.ContentID,
		Status:          models.JobStatusPending,
		PipelineVersion: o.version,
		DataTier:        tier,
		IdempotencyKey:  params.IdempotencyKey,
		Metadata:        params.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	job, created, err := o.store.CreateJobIfAbsent(ctx, job)
	if err != nil {
		return nil, err
	}

	if !created {
		metrics.JobsDeduplicatedTotal.Inc()
		return &SubmitOutcome{Job: job}, nil
	}

	metrics.JobsSubmittedTotal.Inc()
	if err := o.cache.SetJobStatus(ctx, job.ID, job.Status, statusCacheTTL); err != nil {
		slog.Warn("status cache write failed", "job_id", job.ID, "error", err)
	}

	jobID := job.ID
	o.spawn(func(runCtx context.Context) {
		o.execute(runCtx, jobID)
	})

	return &SubmitOutcome{Job: job, Created: true}, nil
}

// Recover schedules execution for jobs that were created but never started,
// e.g. after a restart. Processing rows are left alone: re-running the
// processor is an operator decision, not an automatic retry.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, _, err := o.store.ListJobs(ctx, store.JobFilter{
		Status: models.JobStatusPending,
		Limit:  100,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	for _, job := range jobs {
		jobID := job.ID
		o.spawn(func(runCtx context.Context) {
			o.execute(runCtx, jobID)
		})
	}
	return len(jobs), nil
}

// Cancel cancels a pending job outright or flags a processing one for the
// cooperative check. Best-effort: once the processor call has started, the
// job completes or fails normally.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, bool, error) {
	job, cancelled, err := o.store.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if cancelled {
		if err := o.cache.SetJobStatus(ctx, job.ID, job.Status, statusCacheTTL); err != nil {
			slog.Warn("status cache write failed", "job_id", job.ID, "error", err)
		}
		metrics.JobsFinishedTotal.WithLabelValues(job.Status).Inc()
	}
	return job, cancelled, nil
}

// Close drains tracked background work. When ctx expires first, remaining
// work is cancelled; never-started jobs stay pending and are rescheduled by
// Recover on the next start.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		o.stop()
		return ctx.Err()
	}
}

func (o *Orchestrator) spawn(fn func(ctx context.Context)) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		fn(o.runCtx)
	}()
}

// execute drives one job through the state machine. Failures are caught,
// classified, and written to the job row; nothing escapes to crash the
// process.
func (o *Orchestrator) execute(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline execution", "job_id", jobID, "error", r)
			if _, err := o.store.TransitionJob(context.Background(), jobID, models.JobStatusFailed,
				store.WithFailure(models.ErrorCodeProcessorError, models.ErrorStageProcessor,
					fmt.Sprintf("panic: %v", r))); err != nil {
				slog.Error("failed to record panic outcome", "job_id", jobID, "error", err)
			}
		}
	}()

	if err := o.gate.Acquire(ctx); err != nil {
		// Shutdown while queued; the job stays pending for Recover.
		slog.Info("execution abandoned before admission", "job_id", jobID, "error", err)
		return
	}
	defer o.gate.Release()

	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("load job for execution", "job_id", jobID, "error", err)
		return
	}

	// Cooperative cancellation boundary: the only checkpoint before the
	// processor call.
	if job.Status == models.JobStatusCancelled || job.CancelRequested {
		o.honorCancel(ctx, job)
		return
	}

	job, err = o.store.TransitionJob(ctx, jobID, models.JobStatusProcessing)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// A cancel won the race; nothing to do.
			slog.Info("execution skipped, job no longer pending", "job_id", jobID)
			return
		}
		slog.Error("transition to processing", "job_id", jobID, "error", err)
		return
	}
	o.mirrorStatus(ctx, job)

	start := time.Now()
	result, procErr := o.processor.Process(ctx, models.ProcessRequest{
		JobID:           job.ID,
		ContentID:       job.ContentID,
		ResourceKey:     job.ResourceKey,
		PipelineVersion: job.PipelineVersion,
		Metadata:        job.Metadata,
	})
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	final := o.finishJob(ctx, job, result, procErr)
	if final == nil {
		return
	}

	o.mirrorStatus(ctx, final)
	metrics.JobsFinishedTotal.WithLabelValues(final.Status).Inc()

	if err := o.projector.Update(ctx, final.ContentID, final.ID, final.Status, final.PipelineVersion); err != nil {
		slog.Error("content status projection failed", "job_id", final.ID, "error", err)
	}

	// Fire-and-forget: delivery outcome never feeds back into job state.
	if o.notifier != nil {
		notified := final
		notifiedResult := result
		o.spawn(func(runCtx context.Context) {
			_ = o.notifier.Notify(runCtx, notified, notifiedResult)
		})
	}
}

// finishJob classifies the processor outcome, persists the result when
// there is one, and writes the terminal transition.
func (o *Orchestrator) finishJob(ctx context.Context, job *models.Job, result *models.ResultSummary, procErr error) *models.Job {
	var (
		final *models.Job
		err   error
	)

	switch {
	case procErr != nil:
		final, err = o.store.TransitionJob(ctx, job.ID, models.JobStatusFailed,
			store.WithFailure(classifyProcessorCode(procErr), models.ErrorStageProcessor, procErr.Error()))
	case validateResult(result) != nil:
		verr := validateResult(result)
		final, err = o.store.TransitionJob(ctx, job.ID, models.JobStatusFailed,
			store.WithFailure(models.ErrorCodeValidationFailed, models.ErrorStageValidation, verr.Error()))
	default:
		if perr := o.persistResult(ctx, job, result); perr != nil {
			final, err = o.store.TransitionJob(ctx, job.ID, models.JobStatusFailed,
				store.WithFailure(models.ErrorCodePersistenceError, models.ErrorStagePersistence, perr.Error()))
		} else {
			final, err = o.store.TransitionJob(ctx, job.ID, models.JobStatusCompleted)
		}
	}

	if err != nil {
		slog.Error("terminal transition failed", "job_id", job.ID, "error", err)
		return nil
	}
	return final
}

func (o *Orchestrator) persistResult(ctx context.Context, job *models.Job, result *models.ResultSummary) error {
	return o.store.CreateProcessingResult(ctx, &models.ProcessingResult{
		ID:          uuid.New(),
		JobID:       job.ID,
		ContentID:   job.ContentID,
		Summary:     result.Summary,
		Tags:        result.Tags,
		EntityCount: result.EntityCount,
		Model:       result.Model,
		CreatedAt:   time.Now().UTC(),
	})
}

// honorCancel finalizes a job caught by the cooperative boundary before the
// processor ran.
func (o *Orchestrator) honorCancel(ctx context.Context, job *models.Job) {
	if job.Status == models.JobStatusPending {
		cancelled, err := o.store.TransitionJob(ctx, job.ID, models.JobStatusCancelled)
		if err != nil {
			if !errors.Is(err, store.ErrInvalidTransition) {
				slog.Error("cancel transition failed", "job_id", job.ID, "error", err)
			}
			return
		}
		job = cancelled
		metrics.JobsFinishedTotal.WithLabelValues(job.Status).Inc()
	}
	o.mirrorStatus(ctx, job)
	slog.Info("execution cancelled before processing", "job_id", job.ID)
}

func (o *Orchestrator) mirrorStatus(ctx context.Context, job *models.Job) {
	if err := o.cache.SetJobStatus(ctx, job.ID, job.Status, statusCacheTTL); err != nil {
		slog.Warn("status cache write failed", "job_id", job.ID, "error", err)
	}
}
