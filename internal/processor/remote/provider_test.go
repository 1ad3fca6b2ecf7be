package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

func testRequest() models.ProcessRequest {
	return models.ProcessRequest{
		JobID:           uuid.New(),
		ContentID:       uuid.New(),
		ResourceKey:     "yt:abc123",
		PipelineVersion: "v1",
		Metadata:        map[string]any{"lang": "en"},
	}
}

func newProcessor(baseURL string, timeout time.Duration) *Processor {
	return NewProcessor(config.RemoteProcessorConfig{BaseURL: baseURL, Model: "pipe-v1"}, timeout)
}

func TestProcess_Success(t *testing.T) {
	req := testRequest()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["resource_key"] != "yt:abc123" {
			t.Errorf("unexpected resource key %v", body["resource_key"])
		}
		if body["model"] != "pipe-v1" {
			t.Errorf("expected the configured model, got %v", body["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"summary":      "a video about trains",
			"tags":         []string{"trains"},
			"entity_count": 3,
			"model":        "pipe-v1",
		})
	}))
	defer srv.Close()

	result, err := newProcessor(srv.URL, time.Second).Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Summary != "a video about trains" || result.EntityCount != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProcess_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newProcessor(srv.URL, time.Second).Process(context.Background(), testRequest())
	if !errors.Is(err, models.ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}
}

func TestProcess_MalformedBodyIsBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	_, err := newProcessor(srv.URL, time.Second).Process(context.Background(), testRequest())
	if !errors.Is(err, models.ErrProcessorBadResponse) {
		t.Fatalf("expected ErrProcessorBadResponse, got %v", err)
	}
}

func TestProcess_SlowServiceIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newProcessor(srv.URL, 20*time.Millisecond).Process(context.Background(), testRequest())
	if !errors.Is(err, models.ErrProcessorTimeout) {
		t.Fatalf("expected ErrProcessorTimeout, got %v", err)
	}
}

func TestProcess_RejectedRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newProcessor(srv.URL, time.Second).Process(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected an error for a rejected request")
	}
	if errors.Is(err, models.ErrProcessorUnavailable) || errors.Is(err, models.ErrProcessorTimeout) {
		t.Fatalf("a 4xx must not classify as transient, got %v", err)
	}
}
