// Package memory is a concurrency-safe in-memory warehouse. It mirrors the
// Postgres store's transactional semantics so pipeline behavior can be tested
// without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

type weatherKey struct {
	locationID int64
	observedAt time.Time
}

type revisionKey struct {
	pageKey    int64
	revisionID string
}

// Store holds every layer of the warehouse in maps guarded by one mutex.
// Aggregates are snapshots that only change on RefreshAggregate.
type Store struct {
	mu sync.Mutex

	nextRawID      int64
	nextLocationID int64
	nextPageKey    int64

	rawWeather []domain.RawWeather
	rawPages   []domain.RawPage

	locations map[domain.LocationKey]domain.Location
	weather   map[weatherKey]domain.WeatherFact
	versions  []domain.PageVersion
	revisions map[revisionKey]domain.RevisionFact
	runs      []domain.RunReport

	dailyWeather []domain.DailyWeather
	dailyPages   []domain.DailyPageStats

	conflicts   int
	refreshErrs map[string]error
	pingErr     error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		locations:   make(map[domain.LocationKey]domain.Location),
		weather:     make(map[weatherKey]domain.WeatherFact),
		revisions:   make(map[revisionKey]domain.RevisionFact),
		refreshErrs: make(map[string]error),
	}
}

// InjectConflicts makes the next n fact transactions fail with
// domain.ErrConflict without writing anything.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// FailRefresh makes every refresh of view return err. A nil err clears it.
func (s *Store) FailRefresh(view string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.refreshErrs, view)
		return
	}
	s.refreshErrs[view] = err
}

// SetPingError controls the result of Ping.
func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Ping reports the injected ping error, if any.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// AppendWeather lands a raw weather payload and returns its id.
func (s *Store) AppendWeather(_ context.Context, raw domain.RawWeather) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRawID++
	raw.ID = s.nextRawID
	raw.Payload = append([]byte(nil), raw.Payload...)
	s.rawWeather = append(s.rawWeather, raw)
	return raw.ID, nil
}

// AppendPage lands a raw page payload and returns its id.
func (s *Store) AppendPage(_ context.Context, raw domain.RawPage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRawID++
	raw.ID = s.nextRawID
	raw.Payload = append([]byte(nil), raw.Payload...)
	s.rawPages = append(s.rawPages, raw)
	return raw.ID, nil
}

// UpsertLocations inserts unseen locations and refreshes descriptive fields of
// known ones. It returns the number of new rows.
func (s *Store) UpsertLocations(_ context.Context, seeds []domain.LocationSeed) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, seed := range seeds {
		loc, ok := s.locations[seed.Key()]
		if !ok {
			s.nextLocationID++
			loc = domain.Location{ID: s.nextLocationID, LocationKey: seed.Key()}
			inserted++
		}
		loc.Country, loc.Region, loc.City = seed.Country, seed.Region, seed.City
		s.locations[seed.Key()] = loc
	}
	return inserted, nil
}

// ListLocations returns every location ordered by name.
func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ResolveLocation finds a location by natural key.
func (s *Store) ResolveLocation(_ context.Context, key domain.LocationKey) (domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[key]
	if !ok {
		return domain.Location{}, fmt.Errorf("%w: %s", domain.ErrLocationNotFound, key)
	}
	return loc, nil
}

// LatestRawWeather returns the newest raw payload per location key.
func (s *Store) LatestRawWeather(_ context.Context) ([]domain.RawWeather, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[domain.LocationKey]domain.RawWeather)
	for _, r := range s.rawWeather {
		if cur, ok := latest[r.Location]; !ok || newer(r.FetchedAt, r.ID, cur.FetchedAt, cur.ID) {
			latest[r.Location] = r
		}
	}
	out := make([]domain.RawWeather, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LatestRawPages returns the newest raw payload per page natural key
// (page id, language), plus any title whose newest payload did not parse.
func (s *Store) LatestRawPages(_ context.Context) ([]domain.RawPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type titleKey struct{ title, lang string }
	byPage := make(map[domain.PageKey]domain.RawPage)
	byTitle := make(map[titleKey]domain.RawPage)
	parsed := make(map[int64]bool, len(s.rawPages))
	for _, r := range s.rawPages {
		if snap, err := domain.ParsePageSnapshot(r); err == nil {
			parsed[r.ID] = true
			if cur, ok := byPage[snap.Key]; !ok || newer(r.FetchedAt, r.ID, cur.FetchedAt, cur.ID) {
				byPage[snap.Key] = r
			}
		}
		k := titleKey{r.Title, r.Language}
		if cur, ok := byTitle[k]; !ok || newer(r.FetchedAt, r.ID, cur.FetchedAt, cur.ID) {
			byTitle[k] = r
		}
	}

	out := make([]domain.RawPage, 0, len(byPage))
	for _, r := range byPage {
		out = append(out, r)
	}
	for _, r := range byTitle {
		if !parsed[r.ID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newer(at time.Time, id int64, curAt time.Time, curID int64) bool {
	if !at.Equal(curAt) {
		return at.After(curAt)
	}
	return id > curID
}

// UpsertWeatherFacts writes all facts of one payload atomically. Existing rows
// for the same (location, hour) are overwritten.
func (s *Store) UpsertWeatherFacts(_ context.Context, facts []domain.WeatherFact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takeConflict() {
		return 0, fmt.Errorf("upsert weather facts: %w", domain.ErrConflict)
	}
	for _, f := range facts {
		s.weather[weatherKey{f.LocationID, f.ObservedAt}] = f
	}
	return len(facts), nil
}

// ApplyPageSnapshot runs the type-2 dimension change and the revision insert
// as one unit.
func (s *Store) ApplyPageSnapshot(_ context.Context, snap domain.PageSnapshot, at time.Time) (domain.PageOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takeConflict() {
		return domain.PageOutcome{}, fmt.Errorf("apply page %s: %w", snap.Key, domain.ErrConflict)
	}

	idx := -1
	for i, v := range s.versions {
		if v.Key == snap.Key && v.IsCurrent {
			idx = i
			break
		}
	}

	var current *domain.PageVersion
	if idx >= 0 {
		current = &s.versions[idx]
	}

	change := domain.DecidePageChange(current, snap.Title)
	var pageKey int64
	switch change {
	case domain.PageUnchanged:
		pageKey = current.PageKey
	case domain.PageRetitled:
		s.versions[idx] = domain.CloseVersion(*current, at)
		fallthrough
	case domain.PageInserted:
		s.nextPageKey++
		v := domain.OpenVersion(snap, at)
		v.PageKey = s.nextPageKey
		s.versions = append(s.versions, v)
		pageKey = v.PageKey
	}

	rk := revisionKey{pageKey, snap.RevisionID}
	_, exists := s.revisions[rk]
	if !exists {
		s.revisions[rk] = snap.Revision(pageKey)
	}

	return domain.PageOutcome{PageKey: pageKey, Change: change, RevisionInserted: !exists}, nil
}

func (s *Store) takeConflict() bool {
	if s.conflicts > 0 {
		s.conflicts--
		return true
	}
	return false
}

// RefreshAggregate rebuilds one aggregate snapshot from the current facts.
// The memory store always refreshes "concurrently": readers never observe a
// half-built snapshot.
func (s *Store) RefreshAggregate(_ context.Context, view string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshErrs[view]; err != nil {
		return false, err
	}
	switch view {
	case domain.ViewDailyWeather:
		s.dailyWeather = aggregateWeather(s.weather)
	case domain.ViewDailyPageStats:
		s.dailyPages = aggregatePages(s.revisions)
	default:
		return false, fmt.Errorf("unknown aggregate %q", view)
	}
	return true, nil
}

// RecordRun appends a run report to the run log.
func (s *Store) RecordRun(_ context.Context, report domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, report)
	return nil
}

// WeatherFactsBetween returns one location's facts in [from, to), ordered by
// time.
func (s *Store) WeatherFactsBetween(_ context.Context, locationID int64, from, to time.Time) ([]domain.WeatherFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WeatherFact
	for k, f := range s.weather {
		if k.locationID == locationID && !k.observedAt.Before(from) && k.observedAt.Before(to) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// LastRun returns the most recently started run, or false when the log is
// empty.
func (s *Store) LastRun(_ context.Context) (domain.RunReport, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return domain.RunReport{}, false, nil
	}
	last := s.runs[0]
	for _, r := range s.runs[1:] {
		if !r.StartedAt.Before(last.StartedAt) {
			last = r
		}
	}
	return last, true, nil
}
