package store

import (
	"context"
	"log/slog"
	"time"
)

// Maintainer periodically refreshes planner statistics so row counts and
// index choices keep up with bulk reloads of the server tables.
type Maintainer struct {
	store    *Store
	interval time.Duration
}

// NewMaintainer creates a maintainer running every interval.
func NewMaintainer(store *Store, interval time.Duration) *Maintainer {
	return &Maintainer{
		store:    store,
		interval: interval,
	}
}

// Run starts the maintenance loop. It blocks until the context is cancelled.
func (m *Maintainer) Run(ctx context.Context) error {
	slog.Info("store maintainer started", "interval", m.interval)

	// Run once at startup
	m.analyze(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("store maintainer stopped")
			return ctx.Err()
		case <-ticker.C:
			m.analyze(ctx)
		}
	}
}

func (m *Maintainer) analyze(ctx context.Context) {
	start := time.Now()
	if err := m.store.Analyze(ctx); err != nil {
		if ctx.Err() == nil {
			slog.Error("analyze failed", "error", err)
		}
		return
	}
	slog.Debug("store statistics refreshed", "duration", time.Since(start))
}
