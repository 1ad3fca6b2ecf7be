package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/processor/mock"
	"github.com/kiranshivaraju/contentpipe/internal/store"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// --- mocks ---

// mockStore is an in-memory Store with the same invariant semantics as the
// Postgres implementation: one active job per resource key, unique
// idempotency keys, guarded transitions.
type mockStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.Job
	order   []uuid.UUID
	results map[uuid.UUID]*models.ProcessingResult

	createResultErr error
}

var mockTransitions = map[string][]string{
	models.JobStatusProcessing: {models.JobStatusPending},
	models.JobStatusCompleted:  {models.JobStatusProcessing},
	models.JobStatusFailed:     {models.JobStatusProcessing},
	models.JobStatusCancelled:  {models.JobStatusPending, models.JobStatusProcessing},
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:    make(map[uuid.UUID]*models.Job),
		results: make(map[uuid.UUID]*models.ProcessingResult),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateJobIfAbsent(_ context.Context, job *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		existing := s.jobs[id]
		if job.IdempotencyKey != nil && existing.IdempotencyKey != nil &&
			*existing.IdempotencyKey == *job.IdempotencyKey {
			cp := *existing
			return &cp, false, nil
		}
		if existing.ResourceKey == job.ResourceKey && !existing.IsTerminal() {
			cp := *existing
			return &cp, false, nil
		}
	}

	cp := *job
	cp.Status = models.JobStatusPending
	s.jobs[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	out := cp
	return &out, true, nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *mockStore) GetLatestJobByResourceKey(_ context.Context, resourceKey string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if job := s.jobs[s.order[i]]; job.ResourceKey == resourceKey {
			cp := *job
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ContentID != uuid.Nil && job.ContentID != filter.ContentID {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (s *mockStore) TransitionJob(_ context.Context, id uuid.UUID, next string, opts ...store.TransitionOption) (*models.Job, error) {
	params := store.NewTransitionParams(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	allowed := false
	for _, from := range mockTransitions[next] {
		if job.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, store.ErrInvalidTransition
	}

	now := time.Now().UTC()
	job.Status = next
	job.UpdatedAt = now
	if next == models.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if models.IsTerminalStatus(next) && job.FinishedAt == nil {
		job.FinishedAt = &now
	}
	if params.ErrorCode != nil {
		job.ErrorCode = params.ErrorCode
		job.ErrorStage = params.ErrorStage
		job.ErrorMessage = params.ErrorMessage
	}

	cp := *job
	return &cp, nil
}

func (s *mockStore) RequestCancel(_ context.Context, id uuid.UUID) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	switch job.Status {
	case models.JobStatusPending:
		now := time.Now().UTC()
		job.Status = models.JobStatusCancelled
		job.FinishedAt = &now
		job.UpdatedAt = now
		cp := *job
		return &cp, true, nil
	case models.JobStatusProcessing:
		job.CancelRequested = true
		cp := *job
		return &cp, false, nil
	default:
		cp := *job
		return &cp, false, nil
	}
}

func (s *mockStore) PurgeExpiredJobs(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *mockStore) CreateProcessingResult(_ context.Context, result *models.ProcessingResult) error {
	if s.createResultErr != nil {
		return s.createResultErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.JobID] = &cp
	return nil
}

func (s *mockStore) GetProcessingResultByJobID(_ context.Context, jobID uuid.UUID) (*models.ProcessingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *result
	return &cp, nil
}

func (s *mockStore) UpsertContentStatus(_ context.Context, _ *models.ContentStatus) error {
	return nil
}

func (s *mockStore) GetContentStatus(_ context.Context, _ uuid.UUID) (*models.ContentStatus, error) {
	return nil, store.ErrNotFound
}

type mockCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[uuid.UUID]string)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}

type projectorCall struct {
	ContentID uuid.UUID
	JobID     uuid.UUID
	Status    string
}

type mockProjector struct {
	mu    sync.Mutex
	calls []projectorCall
}

func (p *mockProjector) Update(_ context.Context, contentID, jobID uuid.UUID, status, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, projectorCall{ContentID: contentID, JobID: jobID, Status: status})
	return nil
}

func (p *mockProjector) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Status)
	}
	return out
}

type mockNotifier struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (n *mockNotifier) Notify(_ context.Context, job *models.Job, _ *models.ResultSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	return nil
}

func (n *mockNotifier) notified() []*models.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.Job(nil), n.jobs...)
}

// --- helpers ---

type fixture struct {
	store     *mockStore
	cache     *mockCache
	projector *mockProjector
	notifier  *mockNotifier
	orch      *Orchestrator
}

func newFixture(t *testing.T, proc models.Processor, maxConcurrency int) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMockStore(),
		cache:     newMockCache(),
		projector: &mockProjector{},
		notifier:  &mockNotifier{},
	}
	f.orch = NewOrchestrator(f.store, f.cache, proc, f.projector, f.notifier, NewGate(maxConcurrency), "v1-test")
	return f
}

// drain waits for all scheduled executions and callbacks to finish.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.orch.Close(ctx); err != nil {
		t.Fatalf("drain orchestrator: %v", err)
	}
}

func submitParams(contentID uuid.UUID) SubmitParams {
	return SubmitParams{
		ContentID:    contentID,
		ExternalKind: "yt",
		ExternalID:   "abc123",
	}
}

// --- tests ---

func TestSubmit_RunsJobToCompletion(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 2)
	contentID := uuid.New()

	outcome, err := f.orch.Submit(context.Background(), submitParams(contentID))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Created {
		t.Fatal("expected a new job")
	}
	if outcome.Status() != "submitted" {
		t.Fatalf("expected submitted, got %s", outcome.Status())
	}
	if outcome.Job.ResourceKey != "yt:abc123" {
		t.Fatalf("unexpected resource key %s", outcome.Job.ResourceKey)
	}

	f.drain(t)

	job, err := f.store.GetJob(context.Background(), outcome.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatal("expected both timestamps set")
	}
	if job.StartedAt.After(*job.FinishedAt) {
		t.Fatal("started_at must not be after finished_at")
	}

	if _, err := f.store.GetProcessingResultByJobID(context.Background(), job.ID); err != nil {
		t.Fatalf("expected a persisted result: %v", err)
	}

	statuses := f.projector.statuses()
	if len(statuses) != 1 || statuses[0] != models.JobStatusCompleted {
		t.Fatalf("expected one completed projection, got %v", statuses)
	}

	notified := f.notifier.notified()
	if len(notified) != 1 || notified[0].ID != job.ID {
		t.Fatalf("expected one callback for the job, got %d", len(notified))
	}

	if cached, ok, _ := f.cache.GetJobStatus(context.Background(), job.ID); !ok || cached != models.JobStatusCompleted {
		t.Fatalf("expected completed status mirror, got %q", cached)
	}
}

func TestSubmit_ReturnsExistingActiveJob(t *testing.T) {
	release := make(chan struct{})
	proc := &mock.Processor{
		ProcessFunc: func(_ context.Context, _ models.ProcessRequest) (*models.ResultSummary, error) {
			<-release
			return &models.ResultSummary{Summary: "done"}, nil
		},
	}
	f := newFixture(t, proc, 2)
	contentID := uuid.New()

	first, err := f.orch.Submit(context.Background(), submitParams(contentID))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	second, err := f.orch.Submit(context.Background(), submitParams(contentID))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Created {
		t.Fatal("second submission must not create a job")
	}
	if second.Status() != "already_active" {
		t.Fatalf("expected already_active, got %s", second.Status())
	}
	if second.Job.ID != first.Job.ID {
		t.Fatal("expected the same job id for both submissions")
	}

	close(release)
	f.drain(t)
}

func TestSubmit_ConcurrentSameKeyCreatesOne(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 4)
	contentID := uuid.New()

	const submitters = 16
	var wg sync.WaitGroup
	created := make(chan uuid.UUID, submitters)
	returned := make(chan uuid.UUID, submitters)

	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.orch.Submit(context.Background(), submitParams(contentID))
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			returned <- outcome.Job.ID
			if outcome.Created {
				created <- outcome.Job.ID
			}
		}()
	}
	wg.Wait()
	close(created)
	close(returned)

	var createdIDs []uuid.UUID
	for id := range created {
		createdIDs = append(createdIDs, id)
	}
	if len(createdIDs) != 1 {
		t.Fatalf("expected exactly one created job, got %d", len(createdIDs))
	}
	for id := range returned {
		if id != createdIDs[0] {
			t.Fatalf("all submissions must return the created job id")
		}
	}

	f.drain(t)
}

func TestSubmit_AfterTerminalCreatesNewJob(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 2)
	contentID := uuid.New()

	first, err := f.orch.Submit(context.Background(), submitParams(contentID))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	f.drain(t)

	// The prior job completed, so a plain resubmission reports that instead
	// of starting new work.
	repeat, err := f.orch.Submit(context.Background(), submitParams(contentID))
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if repeat.Status() != "already_completed" {
		t.Fatalf("expected already_completed, got %s", repeat.Status())
	}
	if repeat.Job.ID != first.Job.ID {
		t.Fatal("already_completed must return the prior job")
	}

	// Force always starts fresh work.
	params := submitParams(contentID)
	params.Force = true
	forced, err := f.orch.Submit(context.Background(), params)
	if err != nil {
		t.Fatalf("forced submit: %v", err)
	}
	if !forced.Created {
		t.Fatal("forced submission must create a job")
	}
	if forced.Job.ID == first.Job.ID {
		t.Fatal("forced submission must create a distinct job")
	}

	f.drain(t)
}

func TestSubmit_IdempotencyKeyReturnsPriorJob(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 2)
	key := "client-request-7"

	params := submitParams(uuid.New())
	params.IdempotencyKey = &key
	first, err := f.orch.Submit(context.Background(), params)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	f.drain(t)

	// Same idempotency key, different resource: still the original job,
	// even though it is already terminal.
	params2 := SubmitParams{
		ContentID:      uuid.New(),
		ExternalKind:   "yt",
		ExternalID:     "different",
		IdempotencyKey: &key,
		Force:          true,
	}
	second, err := f.orch.Submit(context.Background(), params2)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Created {
		t.Fatal("duplicate idempotency key must not create a job")
	}
	if second.Job.ID != first.Job.ID {
		t.Fatal("duplicate idempotency key must return the prior job")
	}

	f.drain(t)
}

func TestSubmit_InvalidInput(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 2)

	_, err := f.orch.Submit(context.Background(), SubmitParams{})
	if err == nil {
		t.Fatal("expected an error for an empty submission")
	}

	params := submitParams(uuid.New())
	params.DataTier = "archival"
	if _, err := f.orch.Submit(context.Background(), params); err == nil {
		t.Fatal("expected an error for an unknown tier")
	}

	f.drain(t)
}

func TestExecute_ProcessorTimeoutClassified(t *testing.T) {
	f := newFixture(t, mock.NewFailingProcessor(models.ErrProcessorTimeout), 2)

	outcome, err := f.orch.Submit(context.Background(), submitParams(uuid.New()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.drain(t)

	job, _ := f.store.GetJob(context.Background(), outcome.Job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorCode == nil || *job.ErrorCode != models.ErrorCodeProcessorTimeout {
		t.Fatalf("expected PROCESSOR_TIMEOUT, got %v", job.ErrorCode)
	}
	if job.ErrorStage == nil || *job.ErrorStage != models.ErrorStageProcessor {
		t.Fatalf("expected processor stage, got %v", job.ErrorStage)
	}

	// Failures still notify and project.
	if len(f.notifier.notified()) != 1 {
		t.Fatal("expected a callback for the failed job")
	}
	statuses := f.projector.statuses()
	if len(statuses) != 1 || statuses[0] != models.JobStatusFailed {
		t.Fatalf("expected a failed projection, got %v", statuses)
	}
}

func TestExecute_EmptyResultFailsValidation(t *testing.T) {
	proc := &mock.Processor{
		ProcessFunc: func(_ context.Context, _ models.ProcessRequest) (*models.ResultSummary, error) {
			return &models.ResultSummary{}, nil
		},
	}
	f := newFixture(t, proc, 2)

	outcome, err := f.orch.Submit(context.Background(), submitParams(uuid.New()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.drain(t)

	job, _ := f.store.GetJob(context.Background(), outcome.Job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorCode == nil || *job.ErrorCode != models.ErrorCodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", job.ErrorCode)
	}
}

func TestExecute_PersistenceFailureClassified(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 2)
	f.store.createResultErr = store.ErrDuplicateKey

	outcome, err := f.orch.Submit(context.Background(), submitParams(uuid.New()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.drain(t)

	job, _ := f.store.GetJob(context.Background(), outcome.Job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorCode == nil || *job.ErrorCode != models.ErrorCodePersistenceError {
		t.Fatalf("expected PERSISTENCE_ERROR, got %v", job.ErrorCode)
	}
	if job.ErrorStage == nil || *job.ErrorStage != models.ErrorStagePersistence {
		t.Fatalf("expected persistence stage, got %v", job.ErrorStage)
	}
}

func TestCancel_PendingJobNeverRunsProcessor(t *testing.T) {
	release := make(chan struct{})
	proc := &mock.Processor{
		ProcessFunc: func(_ context.Context, req models.ProcessRequest) (*models.ResultSummary, error) {
			if req.ResourceKey == "yt:blocker" {
				<-release
			} else {
				t.Errorf("processor ran for %s, which should have been cancelled", req.ResourceKey)
			}
			return &models.ResultSummary{Summary: "done"}, nil
		},
	}
	// Gate of one: the blocker holds the only slot while the victim queues.
	f := newFixture(t, proc, 1)

	blocker, err := f.orch.Submit(context.Background(), SubmitParams{
		ContentID: uuid.New(), ExternalKind: "yt", ExternalID: "blocker",
	})
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	// Give the blocker time to take the slot.
	waitForStatus(t, f.cache, blocker.Job.ID, models.JobStatusProcessing)

	victim, err := f.orch.Submit(context.Background(), SubmitParams{
		ContentID: uuid.New(), ExternalKind: "yt", ExternalID: "victim",
	})
	if err != nil {
		t.Fatalf("submit victim: %v", err)
	}

	job, cancelled, err := f.orch.Cancel(context.Background(), victim.Job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled || job.Status != models.JobStatusCancelled {
		t.Fatalf("expected a cancelled pending job, got status %s cancelled=%v", job.Status, cancelled)
	}

	close(release)
	f.drain(t)

	final, _ := f.store.GetJob(context.Background(), victim.Job.ID)
	if final.Status != models.JobStatusCancelled {
		t.Fatalf("cancelled job must stay cancelled, got %s", final.Status)
	}
	if final.ErrorCode != nil {
		t.Fatal("a cancelled job must not carry a failure outcome")
	}
}

func TestCancel_ProcessingJobFinishesNormally(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	proc := &mock.Processor{
		ProcessFunc: func(_ context.Context, _ models.ProcessRequest) (*models.ResultSummary, error) {
			close(started)
			<-release
			return &models.ResultSummary{Summary: "done"}, nil
		},
	}
	f := newFixture(t, proc, 1)

	outcome, err := f.orch.Submit(context.Background(), submitParams(uuid.New()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	job, cancelled, err := f.orch.Cancel(context.Background(), outcome.Job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled {
		t.Fatal("a job inside the processor call must not report cancelled")
	}
	if job.Status != models.JobStatusProcessing || !job.CancelRequested {
		t.Fatalf("expected a flagged processing job, got %s flagged=%v", job.Status, job.CancelRequested)
	}

	close(release)
	f.drain(t)

	final, _ := f.store.GetJob(context.Background(), outcome.Job.ID)
	if final.Status != models.JobStatusCompleted {
		t.Fatalf("expected the natural outcome, got %s", final.Status)
	}
}

func TestExecute_ConcurrencyNeverExceedsGate(t *testing.T) {
	const maxConcurrency = 4
	const jobs = 8

	var mu sync.Mutex
	active, peak := 0, 0
	proc := &mock.Processor{
		ProcessFunc: func(_ context.Context, _ models.ProcessRequest) (*models.ResultSummary, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return &models.ResultSummary{Summary: "done"}, nil
		},
	}
	f := newFixture(t, proc, maxConcurrency)

	var ids []uuid.UUID
	for i := 0; i < jobs; i++ {
		outcome, err := f.orch.Submit(context.Background(), SubmitParams{
			ContentID:    uuid.New(),
			ExternalKind: "yt",
			ExternalID:   uuid.NewString(),
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, outcome.Job.ID)
	}
	f.drain(t)

	if peak > maxConcurrency {
		t.Fatalf("observed %d concurrent processor calls, want at most %d", peak, maxConcurrency)
	}

	var statuses []string
	for _, id := range ids {
		job, _ := f.store.GetJob(context.Background(), id)
		statuses = append(statuses, job.Status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		if status != models.JobStatusCompleted {
			t.Fatalf("expected all jobs completed, got %v", statuses)
		}
	}
}

func TestRecover_ReschedulesPendingJobs(t *testing.T) {
	f := newFixture(t, mock.NewProcessor(), 2)

	// A pending job left behind by a previous process.
	stale := &models.Job{
		ID:          uuid.New(),
		ResourceKey: "yt:stale",
		ContentID:   uuid.New(),
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	if _, created, err := f.store.CreateJobIfAbsent(context.Background(), stale); err != nil || !created {
		t.Fatalf("seed stale job: created=%v err=%v", created, err)
	}

	count, err := f.orch.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one rescheduled job, got %d", count)
	}
	f.drain(t)

	job, _ := f.store.GetJob(context.Background(), stale.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected the recovered job to complete, got %s", job.Status)
	}
}

// waitForStatus polls the status mirror until the job reaches want.
func waitForStatus(t *testing.T, c *mockCache, jobID uuid.UUID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok, _ := c.GetJobStatus(context.Background(), jobID); ok && status == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
}
