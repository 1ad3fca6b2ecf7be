// Package mock provides an in-process processor for tests and local
// development.
package mock

import (
	"context"

	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// Processor satisfies models.Processor without any external service.
type Processor struct {
	ProcessFunc func(ctx context.Context, req models.ProcessRequest) (*models.ResultSummary, error)
}

func (m *Processor) Name() string { return "mock" }

func (m *Processor) Process(ctx context.Context, req models.ProcessRequest) (*models.ResultSummary, error) {
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, req)
	}
	return &models.ResultSummary{
		Summary:     "Mock processing result for " + req.ResourceKey,
		Tags:        []string{"mock"},
		EntityCount: 0,
		Model:       "mock-v1",
	}, nil
}

// NewProcessor returns a Processor with canned successful responses.
func NewProcessor() *Processor {
	return &Processor{}
}

// NewFailingProcessor returns a Processor that always fails with err.
func NewFailingProcessor(err error) *Processor {
	return &Processor{
		ProcessFunc: func(_ context.Context, _ models.ProcessRequest) (*models.ResultSummary, error) {
			return nil, err
		},
	}
}

var _ models.Processor = (*Processor)(nil)
