package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// errFatalConflict ends the run: an entity's transaction conflicted twice.
var errFatalConflict = errors.New("transaction conflict persisted after retry")

// TransformSummary tallies one transform stage.
type TransformSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Rows      int
	Errors    []string
}

func (s TransformSummary) counts() domain.StageCounts {
	return domain.StageCounts{Succeeded: s.Succeeded, Failed: s.Failed, Skipped: s.Skipped, Rows: s.Rows}
}

func (s *TransformSummary) skip(entity string, err error) {
	s.Skipped++
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", entity, err))
}

func (s *TransformSummary) fail(entity string, err error) {
	s.Failed++
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", entity, err))
}

// withConflictRetry runs fn and retries it once on domain.ErrConflict. A
// second conflict is wrapped in errFatalConflict.
func withConflictRetry(ctx context.Context, logger *slog.Logger, entity string, fn func(context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	logger.Warn("transaction conflict, retrying once", "entity", entity, "error", err)
	err = fn(ctx)
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("%w: %s: %w", errFatalConflict, entity, err)
	}
	return err
}

// transformWeather explodes the latest raw payload of every location into
// hourly facts. Each payload is written in one transaction.
func (p *Pipeline) transformWeather(ctx context.Context, logger *slog.Logger) (TransformSummary, error) {
	var sum TransformSummary

	raws, err := p.store.LatestRawWeather(ctx)
	if err != nil {
		return sum, fmt.Errorf("read latest raw weather: %w", err)
	}

	for _, raw := range raws {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		entity := raw.Location.String()

		loc, err := p.resolver.ResolveLocation(ctx, raw.Location)
		if errors.Is(err, domain.ErrLocationNotFound) {
			p.metrics.TransformSkipped.WithLabelValues("weather", "location_not_found").Inc()
			logger.Warn("raw weather has no location row, skipping", "location", entity, "raw_id", raw.ID)
			sum.skip(entity, err)
			continue
		}
		if err != nil {
			sum.fail(entity, err)
			logger.Error("resolve location failed", "location", entity, "error", err)
			continue
		}

		facts, dropped, err := domain.ExplodeWeather(raw, loc.ID)
		if err != nil {
			p.metrics.TransformSkipped.WithLabelValues("weather", "malformed").Inc()
			logger.Warn("malformed weather payload, skipping", "location", entity, "raw_id", raw.ID, "error", err)
			sum.skip(entity, err)
			continue
		}
		if dropped > 0 {
			p.metrics.TransformSkipped.WithLabelValues("weather_hour", "bad_timestamp").Add(float64(dropped))
			logger.Warn("dropped hours with unusable timestamps", "location", entity, "raw_id", raw.ID, "dropped", dropped)
		}

		var written int
		err = withConflictRetry(ctx, logger, entity, func(ctx context.Context) error {
			n, err := p.store.UpsertWeatherFacts(ctx, facts)
			written = n
			return err
		})
		if errors.Is(err, errFatalConflict) {
			sum.fail(entity, err)
			return sum, err
		}
		if err != nil {
			sum.fail(entity, err)
			logger.Error("upsert weather facts failed", "location", entity, "error", err)
			continue
		}

		sum.Succeeded++
		sum.Rows += written
		p.metrics.FactRows.WithLabelValues("weather").Add(float64(written))
		logger.Debug("weather facts upserted", "location", entity, "rows", written)
	}
	return sum, nil
}

// transformPages applies the latest raw snapshot of every page to the type-2
// page dimension and the revision fact table.
func (p *Pipeline) transformPages(ctx context.Context, logger *slog.Logger) (TransformSummary, error) {
	var sum TransformSummary

	raws, err := p.store.LatestRawPages(ctx)
	if err != nil {
		return sum, fmt.Errorf("read latest raw pages: %w", err)
	}

	for _, raw := range raws {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		entity := raw.Language + ":" + raw.Title

		snap, err := domain.ParsePageSnapshot(raw)
		if err != nil {
			p.metrics.TransformSkipped.WithLabelValues("page", "malformed").Inc()
			logger.Warn("malformed page payload, skipping", "page", entity, "raw_id", raw.ID, "error", err)
			sum.skip(entity, err)
			continue
		}

		var out domain.PageOutcome
		err = withConflictRetry(ctx, logger, entity, func(ctx context.Context) error {
			o, err := p.store.ApplyPageSnapshot(ctx, snap, p.clock.Now().UTC())
			out = o
			return err
		})
		if errors.Is(err, errFatalConflict) {
			sum.fail(entity, err)
			return sum, err
		}
		if err != nil {
			sum.fail(entity, err)
			logger.Error("apply page snapshot failed", "page", entity, "error", err)
			continue
		}

		sum.Succeeded++
		p.metrics.PageChanges.WithLabelValues(out.Change.String()).Inc()
		if out.RevisionInserted {
			sum.Rows++
			p.metrics.FactRows.WithLabelValues("revision").Inc()
		}
		logger.Debug("page snapshot applied",
			"page", entity, "page_key", out.PageKey, "change", out.Change.String(), "revision_inserted", out.RevisionInserted)
	}
	return sum, nil
}
