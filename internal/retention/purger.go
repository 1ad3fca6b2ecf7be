// Package retention removes job records past their tier's retention
// window. The purge only targets terminal, aged rows, so it is safe next to
// live job creation and transitions, and repeated runs are harmless.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/internal/metrics"
	"github.com/kiranshivaraju/contentpipe/internal/store"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

type tierWindow struct {
	tier   string
	window time.Duration
}

// Purger sweeps expired job rows on startup and then on a fixed interval.
type Purger struct {
	store    store.Store
	tiers    []tierWindow
	interval time.Duration
}

func NewPurger(st store.Store, cfg config.RetentionConfig) *Purger {
	return &Purger{
		store: st,
		tiers: []tierWindow{
			{tier: models.DataTierFull, window: cfg.FullWindow},
			{tier: models.DataTierCompact, window: cfg.CompactWindow},
		},
		interval: cfg.PurgeInterval,
	}
}

// Run blocks until ctx ends, sweeping immediately and then every interval.
// Sweep failures are logged and retried on the next tick; the delete is
// idempotent, so partial progress from a failed run resumes safely.
func (p *Purger) Run(ctx context.Context) {
	p.Sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep purges every tier once.
func (p *Purger) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	for _, tw := range p.tiers {
		cutoff := now.Add(-tw.window)
		count, err := p.store.PurgeExpiredJobs(ctx, tw.tier, cutoff)
		if err != nil {
			slog.Error("retention purge failed", "tier", tw.tier, "error", err)
			continue
		}
		metrics.PurgedJobsTotal.WithLabelValues(tw.tier).Add(float64(count))
		if count > 0 {
			slog.Info("retention purge removed jobs", "tier", tw.tier, "count", count, "cutoff", cutoff)
		}
	}
}
