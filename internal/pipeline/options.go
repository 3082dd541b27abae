package pipeline

import (
	"time"

	"github.com/couchcryptid/warehouse-etl/internal/config"
	"github.com/couchcryptid/warehouse-etl/internal/domain"
	"github.com/couchcryptid/warehouse-etl/internal/seed"
)

// Options is the immutable run configuration handed to New. Zero fields are
// replaced by the defaults of DefaultOptions.
type Options struct {
	FetchConcurrency  int
	FetchAttempts     int
	FetchBackoff      time.Duration
	FetchMaxBackoff   time.Duration
	FetchTimeout      time.Duration
	RunTimeout        time.Duration
	BreakerFailures   int
	BreakerTimeout    time.Duration
	ResolverCacheSize int

	Locations []domain.LocationSeed
	Pages     []domain.PageSeed
}

// DefaultOptions returns the production defaults with no seeds.
func DefaultOptions() Options {
	return Options{
		FetchConcurrency:  3,
		FetchAttempts:     3,
		FetchBackoff:      2 * time.Second,
		FetchMaxBackoff:   30 * time.Second,
		FetchTimeout:      30 * time.Second,
		RunTimeout:        30 * time.Minute,
		BreakerFailures:   10,
		BreakerTimeout:    time.Minute,
		ResolverCacheSize: 1000,
	}
}

// NewOptions builds Options from service configuration and a loaded seed file.
func NewOptions(cfg *config.Config, seeds *seed.File) Options {
	return Options{
		FetchConcurrency:  cfg.FetchConcurrency,
		FetchAttempts:     cfg.FetchAttempts,
		FetchBackoff:      cfg.FetchBackoff,
		FetchMaxBackoff:   cfg.FetchMaxBackoff,
		FetchTimeout:      cfg.FetchTimeout,
		RunTimeout:        cfg.RunTimeout,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerTimeout:    cfg.BreakerTimeout,
		ResolverCacheSize: cfg.ResolverCacheSize,
		Locations:         append([]domain.LocationSeed(nil), seeds.Locations...),
		Pages:             append([]domain.PageSeed(nil), seeds.WikipediaPages...),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = d.FetchConcurrency
	}
	if o.FetchAttempts <= 0 {
		o.FetchAttempts = d.FetchAttempts
	}
	if o.FetchBackoff <= 0 {
		o.FetchBackoff = d.FetchBackoff
	}
	if o.FetchMaxBackoff < o.FetchBackoff {
		o.FetchMaxBackoff = max(d.FetchMaxBackoff, o.FetchBackoff)
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = d.RunTimeout
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = d.BreakerFailures
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = d.BreakerTimeout
	}
	if o.ResolverCacheSize <= 0 {
		o.ResolverCacheSize = d.ResolverCacheSize
	}
	return o
}
