// Package verify cross-checks warehouse weather facts against a fresh fetch
// from the source API.
package verify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/warehouse-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// Warehouse is the read side the verifier needs.
type Warehouse interface {
	ListLocations(ctx context.Context) ([]domain.Location, error)
	WeatherFactsBetween(ctx context.Context, locationID int64, from, to time.Time) ([]domain.WeatherFact, error)
}

// Source fetches a fresh forecast payload.
type Source interface {
	FetchWeather(ctx context.Context, loc domain.LocationKey) ([]byte, error)
}

// Tolerances bound the accepted difference between warehouse and source.
// Forecasts are revised between fetches, so exact equality is not expected.
type Tolerances struct {
	TemperatureC float64
	HumidityPct  float64
	WindMPS      float64
}

// DefaultTolerances returns 1 °C, 5 % and 0.5 m/s.
func DefaultTolerances() Tolerances {
	return Tolerances{TemperatureC: 1.0, HumidityPct: 5.0, WindMPS: 0.5}
}

// Phase tracks pass/fail for a verification phase.
type Phase struct {
	Name   string
	Errors []string
}

func (p *Phase) errorf(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

// Passed reports whether the phase recorded no errors.
func (p *Phase) Passed() bool { return len(p.Errors) == 0 }

// Report is the outcome of verifying one location.
type Report struct {
	Location domain.Location
	Facts    int
	Compared int
	Phases   []*Phase
}

// Passed reports whether every phase passed.
func (r Report) Passed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Verifier compares one location's stored facts with the source.
type Verifier struct {
	warehouse Warehouse
	source    Source
	clock     clockwork.Clock
	tol       Tolerances
	window    time.Duration
}

// New creates a Verifier. Facts from the start of yesterday up to window after
// it are compared.
func New(w Warehouse, s Source, clock clockwork.Clock, tol Tolerances, window time.Duration) *Verifier {
	return &Verifier{warehouse: w, source: s, clock: clock, tol: tol, window: window}
}

// Weather runs every phase for the named location. Later phases are skipped
// when an earlier one leaves nothing to compare.
func (v *Verifier) Weather(ctx context.Context, name string) (Report, error) {
	var report Report

	present := &Phase{Name: "Location present in dimension"}
	report.Phases = append(report.Phases, present)
	loc, found, err := v.findLocation(ctx, name)
	if err != nil {
		return report, err
	}
	if !found {
		present.errorf("location %q not found in core.location", name)
		return report, nil
	}
	report.Location = loc

	stored := &Phase{Name: "Warehouse facts present"}
	report.Phases = append(report.Phases, stored)
	y, m, d := v.clock.Now().UTC().AddDate(0, 0, -1).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	facts, err := v.warehouse.WeatherFactsBetween(ctx, loc.ID, from, from.Add(v.window))
	if err != nil {
		return report, err
	}
	report.Facts = len(facts)
	if len(facts) == 0 {
		stored.errorf("no core.weather rows for %s between %s and %s",
			name, from.Format(time.RFC3339), from.Add(v.window).Format(time.RFC3339))
		return report, nil
	}

	parity := &Phase{Name: "Source parity"}
	report.Phases = append(report.Phases, parity)
	payload, err := v.source.FetchWeather(ctx, loc.LocationKey)
	if err != nil {
		parity.errorf("fetch source: %v", err)
		return report, nil
	}
	hours, err := openmeteo.DecodeHours(loc.LocationKey, payload)
	if err != nil {
		parity.errorf("decode source payload: %v", err)
		return report, nil
	}
	report.Compared = v.compare(parity, facts, hours)
	if report.Compared == 0 {
		parity.errorf("no overlapping hours between warehouse and source")
	}
	return report, nil
}

// findLocation returns the newest location with the given name.
func (v *Verifier) findLocation(ctx context.Context, name string) (domain.Location, bool, error) {
	locs, err := v.warehouse.ListLocations(ctx)
	if err != nil {
		return domain.Location{}, false, fmt.Errorf("list locations: %w", err)
	}
	var (
		best  domain.Location
		found bool
	)
	for _, l := range locs {
		if l.Name == name && (!found || l.ID > best.ID) {
			best, found = l, true
		}
	}
	return best, found, nil
}

func (v *Verifier) compare(p *Phase, facts []domain.WeatherFact, hours []openmeteo.ForecastHour) int {
	byTime := make(map[time.Time]openmeteo.ForecastHour, len(hours))
	for _, h := range hours {
		byTime[h.Time] = h
	}

	compared := 0
	for _, f := range facts {
		h, ok := byTime[f.ObservedAt]
		if !ok {
			continue
		}
		compared++
		at := f.ObservedAt.Format(time.RFC3339)
		checkMeasure(p, at, "temperature_celsius", f.TemperatureCelsius, h.Temperature, v.tol.TemperatureC)
		checkMeasure(p, at, "humidity_percent", f.HumidityPercent, h.Humidity, v.tol.HumidityPct)
		checkMeasure(p, at, "wind_speed_mps", f.WindSpeedMPS, h.WindSpeedMPS, v.tol.WindMPS)
	}
	return compared
}

// checkMeasure compares two nullable values. A value on one side only is a
// mismatch; both absent is fine.
func checkMeasure(p *Phase, at, column string, stored, fresh *float64, tol float64) {
	switch {
	case stored == nil && fresh == nil:
	case stored == nil:
		p.errorf("%s %s: warehouse NULL, source %.2f", at, column, *fresh)
	case fresh == nil:
		p.errorf("%s %s: warehouse %.2f, source NULL", at, column, *stored)
	case math.Abs(*stored-*fresh) > tol:
		p.errorf("%s %s: warehouse %.2f, source %.2f (tolerance %.2f)", at, column, *stored, *fresh, tol)
	}
}
