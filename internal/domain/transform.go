package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// KmhPerMps is the fixed conversion factor between km/h and m/s.
const KmhPerMps = 3.6

// observedAtLayouts are tried in order when parsing an hourly timestamp.
var observedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// weatherPayload is the subset of the Open-Meteo response the warehouse reads.
// Every array element is a pointer so JSON nulls survive decoding.
type weatherPayload struct {
	Hourly *hourlyArrays `json:"hourly"`
}

type hourlyArrays struct {
	Time          []*string  `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relativehumidity_2m"`
	Precipitation []*float64 `json:"precipitation"`
	CloudCover    []*float64 `json:"cloudcover"`
	WindSpeedKmh  []*float64 `json:"windspeed_10m"`
}

// KmhToMps converts a velocity from km/h to m/s.
func KmhToMps(kmh float64) float64 {
	return kmh / KmhPerMps
}

// ExplodeWeather turns the index-aligned hourly arrays of a raw weather
// payload into one fact per valid timestamp. It returns the facts and the
// number of indices dropped because their timestamp was missing or
// unparseable. When the same timestamp appears twice the later index wins.
func ExplodeWeather(raw RawWeather, locationID int64) ([]WeatherFact, int, error) {
	if len(raw.Payload) == 0 {
		return nil, 0, fmt.Errorf("%w: empty payload for %s", ErrMalformedPayload, raw.Location)
	}

	var p weatherPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, 0, fmt.Errorf("%w: decode weather payload for %s: %v", ErrMalformedPayload, raw.Location, err)
	}
	if p.Hourly == nil {
		return nil, 0, fmt.Errorf("%w: no hourly block for %s", ErrMalformedPayload, raw.Location)
	}
	if len(p.Hourly.Time) == 0 {
		return nil, 0, fmt.Errorf("%w: no hourly timestamps for %s", ErrMalformedPayload, raw.Location)
	}

	ref := LineageRef{RawTable: "weather_observations", RawID: raw.ID, Key: raw.Location.Name}
	h := p.Hourly

	facts := make([]WeatherFact, 0, len(h.Time))
	seen := make(map[time.Time]int, len(h.Time))
	dropped := 0

	for i, ts := range h.Time {
		observedAt, ok := parseObservedAt(ts)
		if !ok {
			dropped++
			continue
		}

		fact := WeatherFact{
			LocationID:         locationID,
			ObservedAt:         observedAt,
			TemperatureCelsius: valueAt(h.Temperature, i),
			HumidityPercent:    valueAt(h.Humidity, i),
			PrecipitationMM:    valueAt(h.Precipitation, i),
			CloudCoverPercent:  valueAt(h.CloudCover, i),
			RawRef:             ref,
		}
		if kmh := valueAt(h.WindSpeedKmh, i); kmh != nil {
			mps := KmhToMps(*kmh)
			fact.WindSpeedMPS = &mps
		}

		if j, dup := seen[observedAt]; dup {
			facts[j] = fact
			continue
		}
		seen[observedAt] = len(facts)
		facts = append(facts, fact)
	}

	return facts, dropped, nil
}

// parseObservedAt parses an hourly timestamp as UTC.
func parseObservedAt(s *string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range observedAtLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// valueAt returns a copy of values[i], or nil when the array is too short or
// holds a null at that index.
func valueAt(values []*float64, i int) *float64 {
	if i >= len(values) || values[i] == nil {
		return nil
	}
	v := *values[i]
	return &v
}
