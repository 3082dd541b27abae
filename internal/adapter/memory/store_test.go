package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

var (
	t0      = time.Date(2024, 11, 1, 6, 0, 0, 0, time.UTC)
	t1      = t0.Add(24 * time.Hour)
	pageKey = domain.PageKey{WikipediaPageID: 9, Language: "en"}
	seattle = domain.LocationSeed{Name: "Seattle", Latitude: 47.6062, Longitude: -122.3321, Country: "US", City: "Seattle"}
)

func f64(v float64) *float64 { return &v }

func snapshot(title, revision string, at time.Time) domain.PageSnapshot {
	return domain.PageSnapshot{Key: pageKey, Title: title, RevisionID: revision, RevisionTimestamp: at, ContentLen: 100, FetchedAt: at}
}

func TestStore_UpsertLocations(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	n, err := s.UpsertLocations(ctx, []domain.LocationSeed{seattle})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	updated := seattle
	updated.Region = "Washington"
	n, err = s.UpsertLocations(ctx, []domain.LocationSeed{updated})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	loc, err := s.ResolveLocation(ctx, seattle.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), loc.ID)
	assert.Equal(t, "Washington", loc.Region)

	_, err = s.ResolveLocation(ctx, domain.LocationKey{Name: "Nowhere"})
	require.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestStore_LatestRaw(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, _ = s.AppendWeather(ctx, domain.RawWeather{Location: seattle.Key(), Payload: []byte(`{"a":1}`), FetchedAt: t0})
	id2, _ := s.AppendWeather(ctx, domain.RawWeather{Location: seattle.Key(), Payload: []byte(`{"a":2}`), FetchedAt: t1})
	id3, _ := s.AppendWeather(ctx, domain.RawWeather{Location: seattle.Key(), Payload: []byte(`{"a":3}`), FetchedAt: t1})

	latest, err := s.LatestRawWeather(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, id3, latest[0].ID)
	assert.Greater(t, id3, id2)
	assert.Len(t, s.RawWeatherRows(), 3)

	_, _ = s.AppendPage(ctx, domain.RawPage{Title: "Go", Language: "en", FetchedAt: t1})
	_, _ = s.AppendPage(ctx, domain.RawPage{Title: "Go", Language: "de", FetchedAt: t0})
	pages, err := s.LatestRawPages(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestStore_UpsertWeatherFacts_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	facts := []domain.WeatherFact{
		{LocationID: 1, ObservedAt: t0, TemperatureCelsius: f64(3)},
		{LocationID: 1, ObservedAt: t0.Add(time.Hour), TemperatureCelsius: f64(4)},
	}

	_, err := s.UpsertWeatherFacts(ctx, facts)
	require.NoError(t, err)
	first := s.WeatherFacts()

	_, err = s.UpsertWeatherFacts(ctx, facts)
	require.NoError(t, err)
	assert.Equal(t, first, s.WeatherFacts())

	facts[0].TemperatureCelsius = f64(9)
	_, err = s.UpsertWeatherFacts(ctx, facts[:1])
	require.NoError(t, err)
	got := s.WeatherFacts()
	require.Len(t, got, 2)
	assert.Equal(t, 9.0, *got[0].TemperatureCelsius)
}

func TestStore_ApplyPageSnapshot_TypeTwo(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	out, err := s.ApplyPageSnapshot(ctx, snapshot("A", "100", t0), t0)
	require.NoError(t, err)
	assert.Equal(t, domain.PageInserted, out.Change)
	assert.True(t, out.RevisionInserted)

	out, err = s.ApplyPageSnapshot(ctx, snapshot("A", "100", t0), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.PageUnchanged, out.Change)
	assert.False(t, out.RevisionInserted)
	require.Len(t, s.PageVersions(), 1)

	out, err = s.ApplyPageSnapshot(ctx, snapshot("B", "101", t1), t1)
	require.NoError(t, err)
	assert.Equal(t, domain.PageRetitled, out.Change)
	assert.True(t, out.RevisionInserted)

	versions := s.PageVersions()
	require.Len(t, versions, 2)
	old, cur := versions[0], versions[1]
	assert.Equal(t, "A", old.Title)
	assert.False(t, old.IsCurrent)
	require.NotNil(t, old.ValidTo)
	assert.Equal(t, t1, *old.ValidTo)
	assert.Equal(t, "B", cur.Title)
	assert.True(t, cur.IsCurrent)
	assert.Equal(t, t1, cur.ValidFrom)

	revs := s.Revisions()
	require.Len(t, revs, 2)
	assert.Equal(t, old.PageKey, revs[0].PageKey)
	assert.Equal(t, "100", revs[0].RevisionID)
	assert.Equal(t, cur.PageKey, revs[1].PageKey)
	assert.Equal(t, "101", revs[1].RevisionID)
}

func TestStore_RevisionImmutable(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := snapshot("A", "100", t0)
	_, err := s.ApplyPageSnapshot(ctx, first, t0)
	require.NoError(t, err)

	again := first
	again.ContentLen = 999
	again.FetchedAt = t1
	out, err := s.ApplyPageSnapshot(ctx, again, t1)
	require.NoError(t, err)
	assert.False(t, out.RevisionInserted)

	revs := s.Revisions()
	require.Len(t, revs, 1)
	assert.Equal(t, int64(100), revs[0].ContentLen)
	assert.Equal(t, t0, revs[0].FetchedAt)
}

func TestStore_InjectConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.InjectConflicts(1)

	_, err := s.ApplyPageSnapshot(ctx, snapshot("A", "1", t0), t0)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, s.PageVersions())

	_, err = s.ApplyPageSnapshot(ctx, snapshot("A", "1", t0), t0)
	require.NoError(t, err)
}

func TestStore_RefreshAggregate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.UpsertWeatherFacts(ctx, []domain.WeatherFact{
		{LocationID: 1, ObservedAt: t0, TemperatureCelsius: f64(2), WindSpeedMPS: f64(5), PrecipitationMM: f64(0.5)},
		{LocationID: 1, ObservedAt: t0.Add(time.Hour), TemperatureCelsius: f64(6), PrecipitationMM: f64(1)},
		{LocationID: 1, ObservedAt: t0.Add(time.Hour * 2)},
	})
	require.NoError(t, err)
	assert.Empty(t, s.DailyWeather(), "aggregates change only on refresh")

	concurrent, err := s.RefreshAggregate(ctx, domain.ViewDailyWeather)
	require.NoError(t, err)
	assert.True(t, concurrent)

	daily := s.DailyWeather()
	require.Len(t, daily, 1)
	d := daily[0]
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), d.Date)
	assert.Equal(t, 3, d.Observations)
	assert.InDelta(t, 4.0, *d.AvgTemperature, 1e-9)
	assert.Equal(t, 2.0, *d.MinTemperature)
	assert.Equal(t, 6.0, *d.MaxTemperature)
	assert.Nil(t, d.AvgHumidity)
	assert.Equal(t, 5.0, *d.MaxWindSpeedMPS)
	assert.InDelta(t, 1.5, *d.TotalPrecipitation, 1e-9)

	_, err = s.ApplyPageSnapshot(ctx, snapshot("A", "1", t0), t0)
	require.NoError(t, err)
	_, err = s.RefreshAggregate(ctx, domain.ViewDailyPageStats)
	require.NoError(t, err)
	require.Len(t, s.DailyPageStats(), 1)
	assert.Equal(t, 1, s.DailyPageStats()[0].Revisions)

	_, err = s.RefreshAggregate(ctx, "mart.nope")
	require.Error(t, err)
}

func TestStore_FailRefresh(t *testing.T) {
	s := NewStore()
	boom := errors.New("boom")
	s.FailRefresh(domain.ViewDailyWeather, boom)

	_, err := s.RefreshAggregate(context.Background(), domain.ViewDailyWeather)
	require.ErrorIs(t, err, boom)

	s.FailRefresh(domain.ViewDailyWeather, nil)
	_, err = s.RefreshAggregate(context.Background(), domain.ViewDailyWeather)
	require.NoError(t, err)
}

func TestStore_WeatherFactsBetween(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, _ = s.UpsertWeatherFacts(ctx, []domain.WeatherFact{
		{LocationID: 1, ObservedAt: t0},
		{LocationID: 1, ObservedAt: t0.Add(time.Hour)},
		{LocationID: 2, ObservedAt: t0},
	})

	got, err := s.WeatherFactsBetween(ctx, 1, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, t0, got[0].ObservedAt)
}

func TestStore_LatestRawPages_ByNaturalKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	summary := func(title string) []byte {
		return []byte(`{"pageid":42,"title":"` + title + `","revision":"1","timestamp":"2024-11-01T06:00:00Z"}`)
	}

	_, _ = s.AppendPage(ctx, domain.RawPage{Title: "Old_Title", Language: "en", Payload: summary("Old Title"), FetchedAt: t0})
	newID, _ := s.AppendPage(ctx, domain.RawPage{Title: "New_Title", Language: "en", Payload: summary("New Title"), FetchedAt: t1})
	badID, _ := s.AppendPage(ctx, domain.RawPage{Title: "Broken", Language: "en", Payload: []byte(`{}`), FetchedAt: t1})
	_, _ = s.AppendPage(ctx, domain.RawPage{Title: "Fixed", Language: "en", Payload: []byte(`{}`), FetchedAt: t0})
	fixedID, _ := s.AppendPage(ctx, domain.RawPage{Title: "Fixed", Language: "en", Payload: []byte(`{"pageid":7,"title":"Fixed","revision":"2"}`), FetchedAt: t1})

	pages, err := s.LatestRawPages(ctx)
	require.NoError(t, err)

	ids := make([]int64, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	assert.Equal(t, []int64{newID, badID, fixedID}, ids)
}
