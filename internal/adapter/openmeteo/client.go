// Package openmeteo fetches hourly forecasts from the Open-Meteo API.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// Source is the value stored in raw.weather_observations.source.
const Source = "open-meteo"

// HourlyVariables is the list of hourly measures requested for every location.
const HourlyVariables = "temperature_2m,relativehumidity_2m,precipitation,cloudcover,windspeed_10m"

const dateLayout = "2006-01-02"

// Client fetches raw forecast payloads. It performs a single request per call;
// retries and circuit breaking belong to the caller.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	forecastDays int
	clock        clockwork.Clock
	logger       *slog.Logger
}

// NewClient creates an Open-Meteo client. The request window spans from
// yesterday to forecastDays after today, in UTC.
func NewClient(baseURL string, forecastDays int, clock clockwork.Clock, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{},
		baseURL:      baseURL,
		forecastDays: forecastDays,
		clock:        clock,
		logger:       logger,
	}
}

// Name returns the source label recorded with every raw row.
func (c *Client) Name() string { return Source }

// FetchWeather returns the raw JSON body for one location.
func (c *Client) FetchWeather(ctx context.Context, loc domain.LocationKey) ([]byte, error) {
	today := c.clock.Now().UTC()
	params := url.Values{
		"latitude":   {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		"hourly":     {HourlyVariables},
		"timezone":   {"UTC"},
		"start_date": {today.AddDate(0, 0, -1).Format(dateLayout)},
		"end_date":   {today.AddDate(0, 0, c.forecastDays).Format(dateLayout)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("fetching weather", "location", loc.Name)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request for %s: %w", loc.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read open-meteo response for %s: %w", loc.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("open-meteo response for %s is not valid JSON", loc.Name)
	}
	return body, nil
}

// statusError classifies a non-200 response. Client errors other than
// timeouts and rate limiting are not worth retrying.
func statusError(code int, body []byte) error {
	if len(body) > 256 {
		body = body[:256]
	}
	err := fmt.Errorf("open-meteo API error: status %d: %s", code, body)
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrSourceRejected, err)
	}
	return err
}

// ForecastHour is one decoded hourly row, used by the verify command.
type ForecastHour struct {
	Time         time.Time
	Temperature  *float64
	Humidity     *float64
	WindSpeedMPS *float64
}

// DecodeHours explodes a payload into hourly rows using the same rules as the
// warehouse transform.
func DecodeHours(loc domain.LocationKey, payload []byte) ([]ForecastHour, error) {
	facts, _, err := domain.ExplodeWeather(domain.RawWeather{Location: loc, Payload: payload}, 0)
	if err != nil {
		return nil, err
	}
	hours := make([]ForecastHour, len(facts))
	for i, f := range facts {
		hours[i] = ForecastHour{Time: f.ObservedAt, Temperature: f.TemperatureCelsius, Humidity: f.HumidityPercent, WindSpeedMPS: f.WindSpeedMPS}
	}
	return hours, nil
}
