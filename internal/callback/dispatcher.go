// Package callback delivers signed completion notifications to an external
// endpoint. Delivery is at-least-once: receivers deduplicate on the event
// id, which is derived deterministically from the job id.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/internal/metrics"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

const SchemaVersion = "1"

// SignatureHeader carries the hex HMAC-SHA256 of the exact request body.
const SignatureHeader = "X-Contentpipe-Signature"

// eventNamespace is the fixed UUIDv5 namespace for event ids. Changing it
// would break receiver-side deduplication across deployments.
var eventNamespace = uuid.MustParse("f3b1a9d2-7c44-4e1b-9a60-1d2f5f8e0c31")

// Event is the webhook body. Field order is fixed by this struct; the
// signature covers the serialized bytes exactly as sent.
type Event struct {
	SchemaVersion   string                `json:"schema_version"`
	EventID         uuid.UUID             `json:"event_id"`
	JobID           uuid.UUID             `json:"job_id"`
	ContentID       uuid.UUID             `json:"content_id"`
	ResourceKey     string                `json:"resource_key"`
	Status          string                `json:"status"`
	PipelineVersion string                `json:"pipeline_version"`
	Result          *models.ResultSummary `json:"result,omitempty"`
}

// EventID derives the stable event identifier for a job. Repeated
// deliveries for the same job always carry the same id.
func EventID(jobID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, jobID[:])
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatcher posts signed events with bounded retries. A Dispatcher built
// from an empty endpoint is disabled and drops every notification.
type Dispatcher struct {
	endpoint       string
	secret         string
	client         *http.Client
	attemptTimeout time.Duration
	initialBackoff time.Duration
	maxAttempts    int
}

func NewDispatcher(cfg config.CallbackConfig) *Dispatcher {
	return &Dispatcher{
		endpoint:       cfg.Endpoint,
		secret:         cfg.Secret,
		client:         &http.Client{},
		attemptTimeout: cfg.AttemptTimeout,
		initialBackoff: cfg.InitialBackoff,
		maxAttempts:    cfg.MaxAttempts,
	}
}

func (d *Dispatcher) Enabled() bool {
	return d.endpoint != ""
}

// Notify delivers the completion event for a terminal job. The outcome is
// logged as an audit event and never affects the job row: callers treat
// this as fire-and-forget.
func (d *Dispatcher) Notify(ctx context.Context, job *models.Job, result *models.ResultSummary) error {
	if !d.Enabled() {
		return nil
	}

	event := Event{
		SchemaVersion:   SchemaVersion,
		EventID:         EventID(job.ID),
		JobID:           job.ID,
		ContentID:       job.ContentID,
		ResourceKey:     job.ResourceKey,
		Status:          job.Status,
		PipelineVersion: job.PipelineVersion,
		Result:          result,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode callback event: %w", err)
	}
	signature := Sign(d.secret, body)

	attempts := 0
	deliver := func() error {
		attempts++
		metrics.CallbackAttemptsTotal.Inc()
		return d.attempt(ctx, body, signature)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialBackoff
	policy.Multiplier = 4
	policy.RandomizationFactor = 0
	policy.MaxInterval = 5 * time.Minute

	err = backoff.Retry(deliver, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1)), ctx))
	if err != nil {
		metrics.CallbackDeliveriesTotal.WithLabelValues("failed").Inc()
		slog.Error("callback delivery failed",
			"job_id", job.ID,
			"event_id", event.EventID,
			"attempts", attempts,
			"error", err,
		)
		return fmt.Errorf("deliver callback after %d attempts: %w", attempts, err)
	}

	metrics.CallbackDeliveriesTotal.WithLabelValues("delivered").Inc()
	slog.Info("callback delivered",
		"job_id", job.ID,
		"event_id", event.EventID,
		"status", job.Status,
		"attempts", attempts,
	)
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, body []byte, signature string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build callback request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
