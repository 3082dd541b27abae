package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warehouse-etl/internal/adapter/memory"
	"github.com/couchcryptid/warehouse-etl/internal/adapter/quality"
	"github.com/couchcryptid/warehouse-etl/internal/domain"
	"github.com/couchcryptid/warehouse-etl/internal/observability"
	"github.com/couchcryptid/warehouse-etl/internal/pipeline"
)

var (
	runStart = time.Date(2024, 11, 8, 6, 0, 0, 0, time.UTC)

	seattle = domain.LocationSeed{Name: "Seattle", Latitude: 47.6062, Longitude: -122.3321, Country: "US", City: "Seattle"}
	berlin  = domain.LocationSeed{Name: "Berlin", Latitude: 52.52, Longitude: 13.405, Country: "DE", City: "Berlin"}

	goPage = domain.PageSeed{Title: "Go_(programming_language)", Language: "en"}
	dwPage = domain.PageSeed{Title: "Data_warehouse", Language: "en"}
)

// forecastPayload builds an Open-Meteo style body with hours hourly entries
// starting at midnight of day, wind 36 km/h.
func forecastPayload(t *testing.T, day time.Time, hours int) []byte {
	t.Helper()
	times := make([]string, hours)
	temps := make([]float64, hours)
	humidity := make([]float64, hours)
	wind := make([]float64, hours)
	precip := make([]float64, hours)
	cloud := make([]float64, hours)
	for i := range hours {
		times[i] = day.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
		temps[i] = float64(i % 12)
		humidity[i] = 80
		wind[i] = 36
		precip[i] = 0.1
		cloud[i] = 50
	}
	b, err := json.Marshal(map[string]any{
		"latitude":  47.6,
		"longitude": -122.3,
		"timezone":  "UTC",
		"hourly": map[string]any{
			"time":                times,
			"temperature_2m":      temps,
			"relativehumidity_2m": humidity,
			"windspeed_10m":       wind,
			"precipitation":       precip,
			"cloudcover":          cloud,
		},
	})
	require.NoError(t, err)
	return b
}

func pageSummary(pageID int64, title, revision string, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"pageid":%d,"title":%q,"revision":%q,"timestamp":%q,"namespace":{"id":0},"lang":"en"}`,
		pageID, title, revision, at.Format(time.RFC3339)))
}

// fakeWeather serves canned payloads per location name and records calls.
type fakeWeather struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
	block    chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeWeather() *fakeWeather {
	return &fakeWeather{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeWeather) Name() string { return "fake-weather" }

func (f *fakeWeather) set(name string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[name] = payload
}

func (f *fakeWeather) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = err
}

func (f *fakeWeather) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeWeather) FetchWeather(ctx context.Context, loc domain.LocationKey) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[loc.Name]++
	payload, err, block := f.payloads[loc.Name], f.errs[loc.Name], f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		// Keep fetches overlapping so the concurrency cap is observable.
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("no payload for %s", loc.Name)
	}
	return payload, nil
}

// fakePages serves canned summaries per title.
type fakePages struct {
	mu        sync.Mutex
	summaries map[string][]byte
	errs      map[string]error
	calls     map[string]int
}

func newFakePages() *fakePages {
	return &fakePages{
		summaries: make(map[string][]byte),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakePages) Name() string { return "fake-pages" }

func (f *fakePages) set(title string, summary []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[title] = summary
}

func (f *fakePages) fail(title string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[title] = err
}

func (f *fakePages) callCount(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[title]
}

func (f *fakePages) FetchPage(_ context.Context, page domain.PageSeed) (domain.PageFetch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[page.Title]++
	if err := f.errs[page.Title]; err != nil {
		return domain.PageFetch{}, err
	}
	s, ok := f.summaries[page.Title]
	if !ok {
		return domain.PageFetch{}, fmt.Errorf("%w: no page %s", domain.ErrSourceRejected, page.Title)
	}
	return domain.PageFetch{Summary: s, SizeBytes: int64(len(s) * 10)}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (r *recordingPublisher) PublishRun(_ context.Context, report domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingPublisher) published() []domain.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunReport(nil), r.reports...)
}

// harness wires a pipeline to in-memory collaborators.
type harness struct {
	store     *memory.Store
	weather   *fakeWeather
	pages     *fakePages
	oracle    *quality.Scripted
	publisher *recordingPublisher
	clock     *clockwork.FakeClock
	metrics   *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		weather:   newFakeWeather(),
		pages:     newFakePages(),
		oracle:    quality.NewScripted(),
		publisher: &recordingPublisher{},
		clock:     clockwork.NewFakeClockAt(runStart),
		metrics:   observability.NewMetricsForTesting(),
	}
	day := time.Date(2024, 11, 7, 0, 0, 0, 0, time.UTC)
	h.weather.set(seattle.Name, forecastPayload(t, day, 24))
	h.weather.set(berlin.Name, forecastPayload(t, day, 24))
	h.pages.set(goPage.Title, pageSummary(25039021, "Go (programming language)", "1250000001", day))
	h.pages.set(dwPage.Title, pageSummary(7990, "Data warehouse", "1240000002", day))
	return h
}

func testOptions() pipeline.Options {
	return pipeline.Options{
		FetchConcurrency: 3,
		FetchAttempts:    3,
		FetchBackoff:     time.Millisecond,
		FetchMaxBackoff:  4 * time.Millisecond,
		FetchTimeout:     time.Second,
		RunTimeout:       10 * time.Second,
		BreakerFailures:  100,
		Locations:        []domain.LocationSeed{seattle, berlin},
		Pages:            []domain.PageSeed{goPage, dwPage},
	}
}

func (h *harness) pipeline(opts pipeline.Options) *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Store:     h.store,
		Weather:   h.weather,
		Pages:     h.pages,
		Oracle:    h.oracle,
		Publisher: h.publisher,
		Clock:     h.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   h.metrics,
	}, opts)
}
