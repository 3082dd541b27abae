package pipeline

import (
	"context"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
	"github.com/couchcryptid/warehouse-etl/internal/observability"
)

// LocationLookup finds a location dimension row by natural key.
type LocationLookup interface {
	ResolveLocation(ctx context.Context, key domain.LocationKey) (domain.Location, error)
}

// cachedResolver wraps a LocationLookup with an in-memory LRU cache. Location
// ids never change once assigned, so entries stay valid for the process
// lifetime.
type cachedResolver struct {
	inner   LocationLookup
	cache   *lruCache[domain.LocationKey, domain.Location]
	metrics *observability.Metrics
}

func newCachedResolver(inner LocationLookup, maxEntries int, metrics *observability.Metrics) *cachedResolver {
	return &cachedResolver{
		inner:   inner,
		cache:   newLRUCache[domain.LocationKey, domain.Location](maxEntries),
		metrics: metrics,
	}
}

func (r *cachedResolver) ResolveLocation(ctx context.Context, key domain.LocationKey) (domain.Location, error) {
	if loc, ok := r.cache.get(key); ok {
		r.metrics.ResolverCache.WithLabelValues("hit").Inc()
		return loc, nil
	}
	r.metrics.ResolverCache.WithLabelValues("miss").Inc()

	loc, err := r.inner.ResolveLocation(ctx, key)
	if err != nil {
		// Misses are not cached: the next run may have seeded the location.
		return loc, err
	}
	r.cache.add(key, loc)
	return loc, nil
}
