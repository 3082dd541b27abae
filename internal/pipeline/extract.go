package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
	"github.com/couchcryptid/warehouse-etl/internal/observability"
)

var (
	// errCircuitOpen marks a fetch short-circuited by the source's open breaker.
	errCircuitOpen = errors.New("circuit breaker open")
	// errBreakerBusy marks an attempt refused because the half-open breaker
	// already admitted its quota of trial requests. It is retried.
	errBreakerBusy = errors.New("circuit breaker half-open, trial quota in use")
)

// ExtractSummary tallies one extract stage.
type ExtractSummary struct {
	Succeeded int
	Failed    int
	Rows      int
	Errors    []string
}

func (s ExtractSummary) counts() domain.StageCounts {
	return domain.StageCounts{Succeeded: s.Succeeded, Failed: s.Failed, Rows: s.Rows}
}

// Extractor fetches one source representation per descriptor D and lands it
// in the raw store. At most FetchConcurrency fetches are in flight. Each fetch
// is retried with exponential backoff; an entity that exhausts its attempts is
// recorded and never aborts the batch.
type Extractor[D, R any] struct {
	source  string
	label   func(D) string
	fetch   func(context.Context, D) (R, error)
	land    func(context.Context, D, R, time.Time) error
	breaker *gobreaker.CircuitBreaker
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// newBreaker builds the per-source circuit breaker. It opens after
// BreakerFailures consecutive failures and half-opens after BreakerTimeout,
// admitting one full fan-out of trial fetches. Rejections and caller
// cancellations are not source failures and never trip it.
func newBreaker(source string, opts Options, logger *slog.Logger) *gobreaker.CircuitBreaker {
	failures := uint32(opts.BreakerFailures) //nolint:gosec // small positive config value
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: uint32(opts.FetchConcurrency), //nolint:gosec // small positive config value
		Interval:    0,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrSourceRejected) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "source", name, "from", from.String(), "to", to.String())
		},
	})
}

// Extract runs every descriptor through fetch-and-land and waits for all of
// them.
func (e *Extractor[D, R]) Extract(ctx context.Context, descriptors []D) ExtractSummary {
	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex
		errs      []string
	)

	var g errgroup.Group
	g.SetLimit(e.opts.FetchConcurrency)

	for _, d := range descriptors {
		g.Go(func() error {
			if err := e.extractOne(ctx, d); err != nil {
				failed.Add(1)
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s %s: %v", e.source, e.label(d), err))
				mu.Unlock()
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return ExtractSummary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Rows:      int(succeeded.Load()),
		Errors:    errs,
	}
}

func (e *Extractor[D, R]) extractOne(ctx context.Context, d D) error {
	result, err := e.fetchWithRetry(ctx, d)
	if err != nil {
		outcome := "exhausted"
		switch {
		case errors.Is(err, errCircuitOpen):
			outcome = "circuit_open"
		case errors.Is(err, domain.ErrSourceRejected):
			outcome = "rejected"
		case ctx.Err() != nil:
			outcome = "cancelled"
		}
		e.metrics.FetchEntities.WithLabelValues(e.source, outcome).Inc()
		e.logger.Error("fetch failed, entity skipped for this run",
			"source", e.source, "entity", e.label(d), "outcome", outcome, "error", err)
		return err
	}

	if err := e.land(ctx, d, result, e.clock.Now().UTC()); err != nil {
		e.metrics.FetchEntities.WithLabelValues(e.source, "land_error").Inc()
		e.logger.Error("append raw row failed", "source", e.source, "entity", e.label(d), "error", err)
		return fmt.Errorf("append raw: %w", err)
	}
	e.metrics.FetchEntities.WithLabelValues(e.source, "fetched").Inc()
	e.metrics.RawRows.WithLabelValues(e.source).Inc()
	return nil
}

// fetchWithRetry makes up to FetchAttempts attempts. A rejection, an open
// circuit or run cancellation ends the loop early; a busy half-open breaker
// is retried like any transient error.
func (e *Extractor[D, R]) fetchWithRetry(ctx context.Context, d D) (R, error) {
	var zero R
	backoff := e.opts.FetchBackoff

	for attempt := 1; ; attempt++ {
		result, err := e.attempt(ctx, d)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("run cancelled: %w", ctx.Err())
		}
		if errors.Is(err, domain.ErrSourceRejected) || errors.Is(err, errCircuitOpen) {
			return zero, err
		}
		if attempt >= e.opts.FetchAttempts {
			return zero, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		e.logger.Warn("fetch attempt failed, retrying",
			"source", e.source, "entity", e.label(d), "attempt", attempt, "backoff", backoff, "error", err)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return zero, fmt.Errorf("run cancelled: %w", ctx.Err())
		}
		backoff = sharedretry.NextBackoff(backoff, e.opts.FetchMaxBackoff)
	}
}

// attempt runs a single fetch through the breaker, bounded by FetchTimeout.
func (e *Extractor[D, R]) attempt(ctx context.Context, d D) (R, error) {
	var zero R
	ctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.fetch(ctx, d)
	})
	e.metrics.FetchDuration.WithLabelValues(e.source).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) {
		e.metrics.FetchAttempts.WithLabelValues(e.source, "circuit_open").Inc()
		return zero, fmt.Errorf("%w: %v", errCircuitOpen, err)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.metrics.FetchAttempts.WithLabelValues(e.source, "breaker_busy").Inc()
		return zero, errBreakerBusy
	}
	if err != nil {
		e.metrics.FetchAttempts.WithLabelValues(e.source, "error").Inc()
		return zero, err
	}
	e.metrics.FetchAttempts.WithLabelValues(e.source, "success").Inc()

	result, ok := out.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T from %s", out, e.source)
	}
	return result, nil
}
