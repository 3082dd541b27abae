package domain

import "time"

// Read-optimized aggregates refreshed after a passing quality gate.
const (
	ViewDailyWeather   = "mart.daily_weather_aggregates"
	ViewDailyPageStats = "mart.daily_wikipedia_page_stats"
)

// Aggregates returns the views the refresher maintains, in refresh order.
func Aggregates() []string {
	return []string{ViewDailyWeather, ViewDailyPageStats}
}

// DailyWeather is one row of the daily weather aggregate.
type DailyWeather struct {
	LocationID         int64
	Date               time.Time
	AvgTemperature     *float64
	MinTemperature     *float64
	MaxTemperature     *float64
	AvgHumidity        *float64
	MaxWindSpeedMPS    *float64
	TotalPrecipitation *float64
	Observations       int
}

// DailyPageStats is one row of the daily page statistics aggregate.
type DailyPageStats struct {
	PageKey       int64
	Date          time.Time
	Revisions     int
	MaxContentLen int64
}
