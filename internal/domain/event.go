package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LocationKey is the natural key of a location: name plus coordinates.
type LocationKey struct {
	Name      string
	Latitude  float64
	Longitude float64
}

func (k LocationKey) String() string {
	return fmt.Sprintf("%s(%s,%s)", k.Name,
		strconv.FormatFloat(k.Latitude, 'f', -1, 64),
		strconv.FormatFloat(k.Longitude, 'f', -1, 64))
}

// LocationSeed is one entry of the reference seed list. Descriptive fields may
// change between runs; the key may not.
type LocationSeed struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Country   string  `yaml:"country"`
	Region    string  `yaml:"region"`
	City      string  `yaml:"city"`
}

// Key returns the natural key of the seed.
func (s LocationSeed) Key() LocationKey {
	return LocationKey{Name: s.Name, Latitude: s.Latitude, Longitude: s.Longitude}
}

// Location is a row of the location dimension.
type Location struct {
	ID int64
	LocationKey
	Country string
	Region  string
	City    string
}

// PageSeed names a Wikipedia page to extract every run.
type PageSeed struct {
	Title     string `yaml:"title"`
	Language  string `yaml:"language"`
	Namespace int    `yaml:"namespace"`
}

// RawWeather is an append-only landing row holding a full Open-Meteo response.
type RawWeather struct {
	ID        int64
	Location  LocationKey
	Payload   []byte
	FetchedAt time.Time
	Source    string
}

// RawPage is an append-only landing row holding a full Wikipedia page summary
// plus the measured HTML size.
type RawPage struct {
	ID        int64
	Title     string
	Language  string
	Payload   []byte
	SizeBytes int64
	FetchedAt time.Time
	Source    string
}

// PageFetch is what the page source returns for a single page.
type PageFetch struct {
	Summary   []byte
	SizeBytes int64
}

// WeatherFact is one hourly observation of one location. Measurements are nil
// when the source did not deliver a value for that hour.
type WeatherFact struct {
	LocationID         int64
	ObservedAt         time.Time
	TemperatureCelsius *float64
	HumidityPercent    *float64
	WindSpeedMPS       *float64
	PrecipitationMM    *float64
	CloudCoverPercent  *float64
	RawRef             LineageRef
}

// PageKey is the natural key of the page dimension.
type PageKey struct {
	WikipediaPageID int64
	Language        string
}

func (k PageKey) String() string {
	return fmt.Sprintf("%d/%s", k.WikipediaPageID, k.Language)
}

// PageVersion is a row of the type-2 page dimension.
type PageVersion struct {
	PageKey   int64
	Key       PageKey
	Title     string
	Namespace int
	ValidFrom time.Time
	ValidTo   *time.Time
	IsCurrent bool
}

// PageSnapshot is the parsed content of one raw page payload.
type PageSnapshot struct {
	Key               PageKey
	Title             string
	Namespace         int
	RevisionID        string
	RevisionTimestamp time.Time
	ContentLen        int64
	FetchedAt         time.Time
	RawRef            LineageRef
}

// RevisionFact is an immutable revision observation attached to the dimension
// row that was current when it was first seen.
type RevisionFact struct {
	PageKey           int64
	RevisionID        string
	RevisionTimestamp time.Time
	ContentLen        int64
	FetchedAt         time.Time
	RawRef            LineageRef
}

// LineageRef points from a derived row back to the raw row it came from.
type LineageRef struct {
	RawTable string `json:"raw_table"`
	RawID    int64  `json:"raw_id"`
	Key      string `json:"key"`
}

// JSON encodes the reference for a jsonb column.
func (r LineageRef) JSON() []byte {
	b, _ := json.Marshal(r) //nolint:errchkjson // plain struct of strings and ints
	return b
}
