package memory

import (
	"sort"
	"time"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// RawWeatherRows returns a copy of the raw weather layer in insert order.
func (s *Store) RawWeatherRows() []domain.RawWeather {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RawWeather(nil), s.rawWeather...)
}

// RawPageRows returns a copy of the raw page layer in insert order.
func (s *Store) RawPageRows() []domain.RawPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RawPage(nil), s.rawPages...)
}

// WeatherFacts returns every weather fact ordered by location and time.
func (s *Store) WeatherFacts() []domain.WeatherFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.WeatherFact, 0, len(s.weather))
	for _, f := range s.weather {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID != out[j].LocationID {
			return out[i].LocationID < out[j].LocationID
		}
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out
}

// PageVersions returns the page dimension in insert order.
func (s *Store) PageVersions() []domain.PageVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PageVersion(nil), s.versions...)
}

// Revisions returns every revision fact ordered by page key and revision id.
func (s *Store) Revisions() []domain.RevisionFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RevisionFact, 0, len(s.revisions))
	for _, r := range s.revisions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageKey != out[j].PageKey {
			return out[i].PageKey < out[j].PageKey
		}
		return out[i].RevisionID < out[j].RevisionID
	})
	return out
}

// DailyWeather returns the last refreshed weather aggregate.
func (s *Store) DailyWeather() []domain.DailyWeather {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DailyWeather(nil), s.dailyWeather...)
}

// DailyPageStats returns the last refreshed page aggregate.
func (s *Store) DailyPageStats() []domain.DailyPageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DailyPageStats(nil), s.dailyPages...)
}

// Runs returns the run log.
func (s *Store) Runs() []domain.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RunReport(nil), s.runs...)
}

type dayKey struct {
	id   int64
	date time.Time
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// stat accumulates a nullable measure the way SQL aggregates do: NULL inputs
// are ignored and an all-NULL group yields NULL.
type stat struct {
	n             int
	sum, min, max float64
}

func (s *stat) add(v *float64) {
	if v == nil {
		return
	}
	if s.n == 0 || *v < s.min {
		s.min = *v
	}
	if s.n == 0 || *v > s.max {
		s.max = *v
	}
	s.sum += *v
	s.n++
}

func (s *stat) avg() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.sum / float64(s.n)
	return &v
}

func (s *stat) minimum() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.min
	return &v
}

func (s *stat) maximum() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.max
	return &v
}

func (s *stat) total() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.sum
	return &v
}

type weatherGroup struct {
	temp, humidity, wind, precip stat
	count                        int
}

func aggregateWeather(facts map[weatherKey]domain.WeatherFact) []domain.DailyWeather {
	groups := make(map[dayKey]*weatherGroup)
	for _, f := range facts {
		k := dayKey{f.LocationID, day(f.ObservedAt)}
		g, ok := groups[k]
		if !ok {
			g = &weatherGroup{}
			groups[k] = g
		}
		g.temp.add(f.TemperatureCelsius)
		g.humidity.add(f.HumidityPercent)
		g.wind.add(f.WindSpeedMPS)
		g.precip.add(f.PrecipitationMM)
		g.count++
	}

	out := make([]domain.DailyWeather, 0, len(groups))
	for k, g := range groups {
		out = append(out, domain.DailyWeather{
			LocationID:         k.id,
			Date:               k.date,
			AvgTemperature:     g.temp.avg(),
			MinTemperature:     g.temp.minimum(),
			MaxTemperature:     g.temp.maximum(),
			AvgHumidity:        g.humidity.avg(),
			MaxWindSpeedMPS:    g.wind.maximum(),
			TotalPrecipitation: g.precip.total(),
			Observations:       g.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID != out[j].LocationID {
			return out[i].LocationID < out[j].LocationID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func aggregatePages(revisions map[revisionKey]domain.RevisionFact) []domain.DailyPageStats {
	groups := make(map[dayKey]*domain.DailyPageStats)
	for _, r := range revisions {
		k := dayKey{r.PageKey, day(r.RevisionTimestamp)}
		g, ok := groups[k]
		if !ok {
			g = &domain.DailyPageStats{PageKey: k.id, Date: k.date}
			groups[k] = g
		}
		g.Revisions++
		if r.ContentLen > g.MaxContentLen {
			g.MaxContentLen = r.ContentLen
		}
	}

	out := make([]domain.DailyPageStats, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageKey != out[j].PageKey {
			return out[i].PageKey < out[j].PageKey
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
