// Package projection mirrors the latest job outcome onto the owning
// content record. The projection is read-optimized and never authoritative;
// the jobs table is.
package projection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/contentpipe/internal/store"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// Projector writes the content-status projection. Updates are idempotent
// and last-write-wins.
type Projector struct {
	store store.Store
}

func NewProjector(st store.Store) *Projector {
	return &Projector{store: st}
}

func (p *Projector) Update(ctx context.Context, contentID, jobID uuid.UUID, status, pipelineVersion string) error {
	err := p.store.UpsertContentStatus(ctx, &models.ContentStatus{
		ContentID:       contentID,
		LastJobID:       jobID,
		Status:          status,
		PipelineVersion: pipelineVersion,
	})
	if err != nil {
		return fmt.Errorf("project content status: %w", err)
	}
	return nil
}
