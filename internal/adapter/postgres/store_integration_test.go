//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dw"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	return store
}

var (
	t0      = time.Date(2024, 11, 1, 6, 0, 0, 0, time.UTC)
	t1      = t0.Add(24 * time.Hour)
	seattle = domain.LocationSeed{Name: "Seattle", Latitude: 47.6062, Longitude: -122.3321, Country: "US", City: "Seattle"}
)

func f64(v float64) *float64 { return &v }

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestStore_RawAndWeatherFacts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.UpsertLocations(ctx, []domain.LocationSeed{seattle})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.UpsertLocations(ctx, []domain.LocationSeed{seattle})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	loc, err := store.ResolveLocation(ctx, seattle.Key())
	require.NoError(t, err)

	_, err = store.AppendWeather(ctx, domain.RawWeather{Location: seattle.Key(), Payload: []byte(`{"v":1}`), FetchedAt: t0, Source: "test"})
	require.NoError(t, err)
	latestID, err := store.AppendWeather(ctx, domain.RawWeather{Location: seattle.Key(), Payload: []byte(`{"v":2}`), FetchedAt: t1, Source: "test"})
	require.NoError(t, err)

	latest, err := store.LatestRawWeather(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, latestID, latest[0].ID)
	assert.JSONEq(t, `{"v":2}`, string(latest[0].Payload))

	facts := []domain.WeatherFact{
		{LocationID: loc.ID, ObservedAt: t0, TemperatureCelsius: f64(3), WindSpeedMPS: f64(10),
			RawRef: domain.LineageRef{RawTable: "weather_observations", RawID: latestID, Key: "Seattle"}},
		{LocationID: loc.ID, ObservedAt: t0.Add(time.Hour)},
	}
	_, err = store.UpsertWeatherFacts(ctx, facts)
	require.NoError(t, err)
	_, err = store.UpsertWeatherFacts(ctx, facts)
	require.NoError(t, err)

	got, err := store.WeatherFactsBetween(ctx, loc.ID, t0, t1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, *got[0].TemperatureCelsius)
	assert.Nil(t, got[1].TemperatureCelsius)
	assert.Equal(t, latestID, got[0].RawRef.RawID)

	_, err = store.ResolveLocation(ctx, domain.LocationKey{Name: "Nowhere"})
	require.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestStore_LatestRawPages_ByNaturalKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	summary := func(title string) []byte {
		return []byte(`{"pageid":42,"title":"` + title + `","revision":"1","timestamp":"2024-11-01T06:00:00Z"}`)
	}
	appendPage := func(title string, payload []byte, at time.Time) int64 {
		id, err := store.AppendPage(ctx, domain.RawPage{Title: title, Language: "en", Payload: payload, FetchedAt: at, Source: "test"})
		require.NoError(t, err)
		return id
	}

	appendPage("Old_Title", summary("Old Title"), t0)
	newID := appendPage("New_Title", summary("New Title"), t1)
	badID := appendPage("Broken", []byte(`{}`), t1)
	appendPage("Fixed", []byte(`{}`), t0)
	fixedID := appendPage("Fixed", []byte(`{"pageid":7,"title":"Fixed","revision":"2"}`), t1)

	pages, err := store.LatestRawPages(ctx)
	require.NoError(t, err)

	ids := make([]int64, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	assert.Equal(t, []int64{newID, badID, fixedID}, ids)
}

func TestStore_ApplyPageSnapshot(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := domain.PageKey{WikipediaPageID: 9, Language: "en"}

	snap := func(title, rev string, at time.Time) domain.PageSnapshot {
		return domain.PageSnapshot{Key: key, Title: title, RevisionID: rev, RevisionTimestamp: at, ContentLen: 10, FetchedAt: at,
			RawRef: domain.LineageRef{RawTable: "wikipedia_pages", RawID: 1, Key: title}}
	}

	out, err := store.ApplyPageSnapshot(ctx, snap("A", "100", t0), t0)
	require.NoError(t, err)
	assert.Equal(t, domain.PageInserted, out.Change)
	assert.True(t, out.RevisionInserted)
	firstKey := out.PageKey

	out, err = store.ApplyPageSnapshot(ctx, snap("A", "100", t0), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.PageUnchanged, out.Change)
	assert.False(t, out.RevisionInserted)

	out, err = store.ApplyPageSnapshot(ctx, snap("B", "101", t1), t1)
	require.NoError(t, err)
	assert.Equal(t, domain.PageRetitled, out.Change)
	assert.NotEqual(t, firstKey, out.PageKey)

	var current int
	require.NoError(t, store.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM core.wikipedia_page WHERE wikipedia_page_id = 9 AND is_current`).Scan(&current))
	assert.Equal(t, 1, current)

	var validTo time.Time
	require.NoError(t, store.pool.QueryRow(ctx,
		`SELECT valid_to FROM core.wikipedia_page WHERE page_key = $1`, firstKey).Scan(&validTo))
	var validFrom time.Time
	require.NoError(t, store.pool.QueryRow(ctx,
		`SELECT valid_from FROM core.wikipedia_page WHERE page_key = $1`, out.PageKey).Scan(&validFrom))
	assert.True(t, validTo.Equal(validFrom))
}

func TestStore_ApplyPageSnapshot_ConcurrentFirstSighting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	snap := domain.PageSnapshot{Key: domain.PageKey{WikipediaPageID: 77, Language: "en"}, Title: "Race",
		RevisionID: "1", RevisionTimestamp: t0, FetchedAt: t0}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ApplyPageSnapshot(ctx, snap, t0)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrConflict)
		}
	}
	var current int
	require.NoError(t, store.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM core.wikipedia_page WHERE wikipedia_page_id = 77 AND is_current`).Scan(&current))
	assert.Equal(t, 1, current)
}

func TestStore_RefreshAggregate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, view := range domain.Aggregates() {
		concurrent, err := store.RefreshAggregate(ctx, view)
		require.NoError(t, err, view)
		assert.True(t, concurrent, view)
	}

	_, err := store.pool.Exec(ctx, `CREATE MATERIALIZED VIEW mart.no_index AS SELECT 1 AS x`)
	require.NoError(t, err)
	concurrent, err := store.RefreshAggregate(ctx, "mart.no_index")
	require.NoError(t, err)
	assert.False(t, concurrent)

	_, err = store.RefreshAggregate(ctx, "unqualified")
	require.Error(t, err)
}

func TestStore_RecordRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	report := domain.RunReport{RunID: "run-1", Status: domain.RunSucceeded, StartedAt: t0, FinishedAt: t0.Add(time.Minute),
		Stages: map[string]domain.StageCounts{domain.StageWeatherExtract: {Succeeded: 3}}}
	require.NoError(t, store.RecordRun(ctx, report))
	report.Status = domain.RunPartial
	require.NoError(t, store.RecordRun(ctx, report))

	last, ok, err := store.LastRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunPartial, last.Status)
	assert.Equal(t, 3, last.Stages[domain.StageWeatherExtract].Succeeded)
}
