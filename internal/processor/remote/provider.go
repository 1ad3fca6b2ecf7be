// Package remote implements the processor against an HTTP
// content-understanding service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// Processor calls a remote enrichment service over HTTP. The per-call
// timeout lives here, not in the orchestrator: timeout policy belongs to
// the processor contract.
type Processor struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewProcessor(cfg config.RemoteProcessorConfig, timeout time.Duration) *Processor {
	return &Processor{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *Processor) Name() string { return "remote" }

type processRequest struct {
	JobID           string         `json:"job_id"`
	ContentID       string         `json:"content_id"`
	ResourceKey     string         `json:"resource_key"`
	PipelineVersion string         `json:"pipeline_version"`
	Model           string         `json:"model,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type processResponse struct {
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	EntityCount int      `json:"entity_count"`
	Model       string   `json:"model"`
	Error       string   `json:"error"`
}

func (p *Processor) Process(ctx context.Context, req models.ProcessRequest) (*models.ResultSummary, error) {
	body, err := json.Marshal(processRequest{
		JobID:           req.JobID.String(),
		ContentID:       req.ContentID.String(),
		ResourceKey:     req.ResourceKey,
		PipelineVersion: req.PipelineVersion,
		Model:           p.model,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode process request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/process", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build process request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", models.ErrProcessorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("processor rejected request: status %d", resp.StatusCode)
	}

	var out processResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrProcessorBadResponse, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("processor error: %s", out.Error)
	}

	return &models.ResultSummary{
		Summary:     out.Summary,
		Tags:        out.Tags,
		EntityCount: out.EntityCount,
		Model:       out.Model,
	}, nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrProcessorTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrProcessorTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrProcessorUnavailable, err)
}

var _ models.Processor = (*Processor)(nil)
