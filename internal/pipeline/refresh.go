package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

type refreshResult struct {
	refreshed int
	failed    int
	errors    []string
}

// refreshAggregates rebuilds every aggregate concurrently. A failed view does
// not stop the others.
func (p *Pipeline) refreshAggregates(ctx context.Context, logger *slog.Logger) refreshResult {
	var (
		mu  sync.Mutex
		res refreshResult
	)

	var g errgroup.Group
	for _, view := range domain.Aggregates() {
		g.Go(func() error {
			start := time.Now()
			concurrent, err := p.store.RefreshAggregate(ctx, view)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.metrics.RefreshErrors.WithLabelValues(view).Inc()
				res.failed++
				res.errors = append(res.errors, fmt.Sprintf("refresh %s: %v", view, err))
				logger.Error("aggregate refresh failed", "view", view, "error", err)
				return nil
			}

			mode := "concurrent"
			if !concurrent {
				mode = "plain"
				logger.Warn("aggregate has no unique index, refreshed with exclusive lock", "view", view)
			}
			p.metrics.RefreshDuration.WithLabelValues(view, mode).Observe(time.Since(start).Seconds())
			res.refreshed++
			logger.Info("aggregate refreshed", "view", view, "mode", mode, "duration", time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	return res
}
