package callback

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

func testDispatcher(endpoint string) *Dispatcher {
	return NewDispatcher(config.CallbackConfig{
		Endpoint:       endpoint,
		Secret:         "test-secret",
		AttemptTimeout: time.Second,
		InitialBackoff: 5 * time.Millisecond,
		MaxAttempts:    3,
	})
}

func terminalJob() *models.Job {
	return &models.Job{
		ID:              uuid.New(),
		ResourceKey:     "yt:abc123",
		ContentID:       uuid.New(),
		Status:          models.JobStatusCompleted,
		PipelineVersion: "v1",
	}
}

func TestNotify_DeliversSignedEvent(t *testing.T) {
	var (
		mu        sync.Mutex
		bodies    [][]byte
		signature string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		signature = r.Header.Get(SignatureHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := terminalJob()
	result := &models.ResultSummary{Summary: "ok", Tags: []string{"a"}, EntityCount: 2, Model: "m1"}

	if err := testDispatcher(srv.URL).Notify(context.Background(), job, result); err != nil {
		t.Fatalf("notify: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected one delivery, got %d", len(bodies))
	}

	want := "sha256=" + Sign("test-secret", bodies[0])
	if !hmac.Equal([]byte(signature), []byte(want)) {
		t.Fatalf("signature does not verify against the received body")
	}

	var event Event
	if err := json.Unmarshal(bodies[0], &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version %q", event.SchemaVersion)
	}
	if event.JobID != job.ID || event.ContentID != job.ContentID {
		t.Fatal("event identifies the wrong job")
	}
	if event.EventID != EventID(job.ID) {
		t.Fatal("event id must be derived from the job id")
	}
	if event.Status != models.JobStatusCompleted || event.ResourceKey != job.ResourceKey {
		t.Fatalf("unexpected event payload: %+v", event)
	}
	if event.Result == nil || event.Result.Summary != "ok" {
		t.Fatalf("expected the result summary in the event, got %+v", event.Result)
	}
}

func TestNotify_RetriesUntilSuccess(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testDispatcher(srv.URL).Notify(context.Background(), terminalJob(), nil); err != nil {
		t.Fatalf("notify should succeed on the third attempt: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestNotify_GivesUpAfterMaxAttempts(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testDispatcher(srv.URL).Notify(context.Background(), terminalJob(), nil)
	if err == nil {
		t.Fatal("expected an error when every attempt fails")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestNotify_DisabledDispatcherSendsNothing(t *testing.T) {
	d := NewDispatcher(config.CallbackConfig{})
	if d.Enabled() {
		t.Fatal("a dispatcher without an endpoint must be disabled")
	}
	if err := d.Notify(context.Background(), terminalJob(), nil); err != nil {
		t.Fatalf("disabled notify must be a no-op: %v", err)
	}
}

func TestEventID_StablePerJob(t *testing.T) {
	jobID := uuid.New()
	if EventID(jobID) != EventID(jobID) {
		t.Fatal("event id must be stable across deliveries")
	}
	if EventID(jobID) == EventID(uuid.New()) {
		t.Fatal("distinct jobs must produce distinct event ids")
	}
}

func TestSign_KeyAndBodySensitive(t *testing.T) {
	body := []byte(`{"job_id":"x"}`)
	if Sign("a", body) == Sign("b", body) {
		t.Fatal("different secrets must produce different signatures")
	}
	if Sign("a", body) == Sign("a", []byte(`{"job_id":"y"}`)) {
		t.Fatal("different bodies must produce different signatures")
	}
	if len(Sign("a", body)) != 64 {
		t.Fatal("expected a hex-encoded SHA-256 digest")
	}
}
