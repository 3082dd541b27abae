package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
	"github.com/couchcryptid/warehouse-etl/internal/observability"
)

// WeatherSource fetches the raw forecast payload of one location.
type WeatherSource interface {
	Name() string
	FetchWeather(ctx context.Context, loc domain.LocationKey) ([]byte, error)
}

// PageSource fetches the raw summary and content size of one page.
type PageSource interface {
	Name() string
	FetchPage(ctx context.Context, page domain.PageSeed) (domain.PageFetch, error)
}

// Store is the warehouse the pipeline reads and writes.
type Store interface {
	LocationLookup

	Ping(ctx context.Context) error

	AppendWeather(ctx context.Context, raw domain.RawWeather) (int64, error)
	AppendPage(ctx context.Context, raw domain.RawPage) (int64, error)
	LatestRawWeather(ctx context.Context) ([]domain.RawWeather, error)
	LatestRawPages(ctx context.Context) ([]domain.RawPage, error)

	UpsertLocations(ctx context.Context, seeds []domain.LocationSeed) (int, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
	UpsertWeatherFacts(ctx context.Context, facts []domain.WeatherFact) (int, error)
	ApplyPageSnapshot(ctx context.Context, snap domain.PageSnapshot, at time.Time) (domain.PageOutcome, error)

	RefreshAggregate(ctx context.Context, view string) (bool, error)
	RecordRun(ctx context.Context, report domain.RunReport) error
}

// Oracle evaluates an expectation suite against warehouse rows.
type Oracle interface {
	Evaluate(ctx context.Context, sel domain.QualitySelector) (domain.QualityResult, error)
}

// RunPublisher announces finished runs to downstream consumers.
type RunPublisher interface {
	PublishRun(ctx context.Context, report domain.RunReport) error
}

// Deps are the collaborators of a Pipeline. Publisher may be nil; a nil Clock
// means the real clock.
type Deps struct {
	Store     Store
	Weather   WeatherSource
	Pages     PageSource
	Oracle    Oracle
	Publisher RunPublisher
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Pipeline runs the warehouse load: location dimension, weather extract and
// transform, page extract and transform, quality gate, aggregate refresh.
// Only one run is active at a time.
type Pipeline struct {
	store     Store
	weather   WeatherSource
	pages     PageSource
	oracle    Oracle
	publisher RunPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options

	resolver       *cachedResolver
	weatherBreaker *gobreaker.CircuitBreaker
	pageBreaker    *gobreaker.CircuitBreaker

	active atomic.Bool
	wg     sync.WaitGroup
}

// New creates a Pipeline. Zero option fields take their defaults.
func New(deps Deps, opts Options) *Pipeline {
	opts = opts.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		store:          deps.Store,
		weather:        deps.Weather,
		pages:          deps.Pages,
		oracle:         deps.Oracle,
		publisher:      deps.Publisher,
		clock:          clock,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		opts:           opts,
		resolver:       newCachedResolver(deps.Store, opts.ResolverCacheSize, deps.Metrics),
		weatherBreaker: newBreaker(deps.Weather.Name(), opts, deps.Logger),
		pageBreaker:    newBreaker(deps.Pages.Name(), opts, deps.Logger),
	}
}

// CheckReadiness reports whether the warehouse is reachable.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// RunOnce executes one complete run and blocks until it finishes. The error is
// non-nil only when the run could not start or its report could not be
// recorded; the outcome itself is in the report's status.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.RunReport, error) {
	if !p.active.CompareAndSwap(false, true) {
		return domain.RunReport{}, domain.ErrRunInProgress
	}
	defer p.active.Store(false)
	return p.run(ctx, uuid.NewString())
}

// Trigger starts a run in the background and returns its id.
func (p *Pipeline) Trigger(ctx context.Context) (string, error) {
	if !p.active.CompareAndSwap(false, true) {
		return "", domain.ErrRunInProgress
	}
	runID := uuid.NewString()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Store(false)
		if _, err := p.run(ctx, runID); err != nil {
			p.logger.Error("triggered run failed", "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

// Wait blocks until every triggered run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(parent context.Context, runID string) (domain.RunReport, error) {
	ctx, cancel := context.WithTimeout(parent, p.opts.RunTimeout)
	defer cancel()

	logger := p.logger.With("run_id", runID)
	report := domain.RunReport{
		RunID:     runID,
		StartedAt: p.clock.Now().UTC(),
		Stages:    make(map[string]domain.StageCounts),
	}

	p.metrics.RunActive.Set(1)
	defer p.metrics.RunActive.Set(0)
	logger.Info("pipeline run started",
		"locations", len(p.opts.Locations), "pages", len(p.opts.Pages), "fetch_concurrency", p.opts.FetchConcurrency)

	report.Status = p.execute(ctx, logger, &report)
	report.FinishedAt = p.clock.Now().UTC()

	p.metrics.Runs.WithLabelValues(string(report.Status)).Inc()
	p.metrics.RunDuration.Observe(report.Duration().Seconds())
	logger.Info("pipeline run finished", "status", report.Status, "duration", report.Duration(), "errors", len(report.Errors))

	// The run log must be written even when the run timed out.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(parent), 30*time.Second)
	defer finishCancel()

	if err := p.store.RecordRun(finishCtx, report); err != nil {
		logger.Error("record run failed", "error", err)
		return report, fmt.Errorf("record run %s: %w", runID, err)
	}
	if p.publisher != nil {
		if err := p.publisher.PublishRun(finishCtx, report); err != nil {
			logger.Warn("publish run report failed", "error", err)
		}
	}
	return report, nil
}

// execute runs the stages in order and returns the terminal status.
func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, report *domain.RunReport) domain.RunStatus {
	fail := func(stage string, err error) domain.RunStatus {
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w (run: %w)", err, ctx.Err())
		}
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", stage, err))
		logger.Error("pipeline run aborted", "stage", stage, "error", err)
		return domain.RunFailed
	}
	degraded := false

	// Location dimension.
	inserted, err := p.store.UpsertLocations(ctx, p.opts.Locations)
	if err != nil {
		return fail(domain.StageDimension, err)
	}
	report.Stages[domain.StageDimension] = domain.StageCounts{Succeeded: len(p.opts.Locations), Rows: inserted}
	locations, err := p.store.ListLocations(ctx)
	if err != nil {
		return fail(domain.StageDimension, err)
	}

	// Weather.
	weather := p.weatherExtractor(logger)
	ws := weather.Extract(ctx, locations)
	report.Stages[domain.StageWeatherExtract] = ws.counts()
	report.Errors = append(report.Errors, ws.Errors...)
	degraded = degraded || ws.Failed > 0
	if ctx.Err() != nil {
		return fail(domain.StageWeatherExtract, ctx.Err())
	}

	wt, err := p.transformWeather(ctx, logger)
	report.Stages[domain.StageWeatherTransform] = wt.counts()
	report.Errors = append(report.Errors, wt.Errors...)
	if err != nil {
		return fail(domain.StageWeatherTransform, err)
	}
	degraded = degraded || wt.Failed > 0 || wt.Skipped > 0

	// Pages.
	pages := p.pageExtractor(logger)
	ps := pages.Extract(ctx, p.opts.Pages)
	report.Stages[domain.StagePageExtract] = ps.counts()
	report.Errors = append(report.Errors, ps.Errors...)
	degraded = degraded || ps.Failed > 0
	if ctx.Err() != nil {
		return fail(domain.StagePageExtract, ctx.Err())
	}

	pt, err := p.transformPages(ctx, logger)
	report.Stages[domain.StagePageTransform] = pt.counts()
	report.Errors = append(report.Errors, pt.Errors...)
	if err != nil {
		return fail(domain.StagePageTransform, err)
	}
	degraded = degraded || pt.Failed > 0 || pt.Skipped > 0

	// Quality gate: a hard barrier before refresh.
	gate, err := p.runGate(ctx, logger, report.StartedAt)
	report.Stages[domain.StageQualityGate] = domain.StageCounts{Succeeded: gate.passed, Failed: gate.failed}
	report.Violations = gate.violations
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return domain.RunFailedAtGate
	}

	// Aggregates.
	rr := p.refreshAggregates(ctx, logger)
	report.Stages[domain.StageAggregateRefresh] = domain.StageCounts{Succeeded: rr.refreshed, Failed: rr.failed, Rows: rr.refreshed}
	report.Errors = append(report.Errors, rr.errors...)
	degraded = degraded || rr.failed > 0

	if degraded {
		return domain.RunPartial
	}
	return domain.RunSucceeded
}

func (p *Pipeline) weatherExtractor(logger *slog.Logger) *Extractor[domain.Location, []byte] {
	source := p.weather.Name()
	return &Extractor[domain.Location, []byte]{
		source: source,
		label:  func(l domain.Location) string { return l.Name },
		fetch: func(ctx context.Context, l domain.Location) ([]byte, error) {
			return p.weather.FetchWeather(ctx, l.LocationKey)
		},
		land: func(ctx context.Context, l domain.Location, payload []byte, at time.Time) error {
			_, err := p.store.AppendWeather(ctx, domain.RawWeather{
				Location:  l.LocationKey,
				Payload:   payload,
				FetchedAt: at,
				Source:    source,
			})
			return err
		},
		breaker: p.weatherBreaker,
		opts:    p.opts,
		clock:   p.clock,
		logger:  logger,
		metrics: p.metrics,
	}
}

func (p *Pipeline) pageExtractor(logger *slog.Logger) *Extractor[domain.PageSeed, domain.PageFetch] {
	source := p.pages.Name()
	return &Extractor[domain.PageSeed, domain.PageFetch]{
		source: source,
		label:  func(pg domain.PageSeed) string { return pg.Language + ":" + pg.Title },
		fetch:  p.pages.FetchPage,
		land: func(ctx context.Context, pg domain.PageSeed, f domain.PageFetch, at time.Time) error {
			_, err := p.store.AppendPage(ctx, domain.RawPage{
				Title:     pg.Title,
				Language:  pg.Language,
				Payload:   f.Summary,
				SizeBytes: f.SizeBytes,
				FetchedAt: at,
				Source:    source,
			})
			return err
		},
		breaker: p.pageBreaker,
		opts:    p.opts,
		clock:   p.clock,
		logger:  logger,
		metrics: p.metrics,
	}
}
