// Package domain models the warehouse's two source entities and the rows
// derived from them.
//
// # Data Sources
//
// Weather observations come from the Open-Meteo forecast API
// (https://open-meteo.com/en/docs). One request per seeded location returns an
// "hourly" object of index-aligned arrays:
//
//	{"hourly": {
//	    "time":                ["2024-11-08T00:00", "2024-11-08T01:00", ...],
//	    "temperature_2m":      [10.2, 9.8, ...],
//	    "relativehumidity_2m": [81, 83, ...],
//	    "precipitation":       [0.0, 0.1, ...],
//	    "cloudcover":          [100, 96, ...],
//	    "windspeed_10m":       [12.5, 11.9, ...]
//	}}
//
// Page metadata comes from the Wikipedia REST API page summary endpoint
// (/page/summary/{title}). The content size is the byte length of the
// rendered HTML (/page/html/{title}), measured by the extractor and stored
// next to the raw summary.
//
// # Conventions
//
// Time format:
//
//	Open-Meteo timestamps carry no zone suffix when timezone=UTC is requested
//	("2024-11-08T13:00"). RFC 3339 values are accepted as well. Every parsed
//	instant is normalized to UTC. An index whose timestamp is missing or
//	unparseable produces no fact row.
//
// Units:
//
//	windspeed_10m arrives in km/h and is stored in m/s (divide by 3.6).
//	Temperature (°C), relative humidity (%), precipitation (mm) and cloud
//	cover (%) are stored as delivered.
//
// Ragged arrays:
//
//	A measurement array shorter than the time array, or a JSON null inside
//	it, yields a NULL measurement for that index. The row itself is kept.
//
// Wikipedia namespace:
//
//	The summary reports namespace either as an object {"id": 0, "text": ""}
//	or as a bare number. Both forms are accepted.
//
// # Type-2 Page Dimension
//
// A page is identified by (wikipedia page id, language). Exactly one
// dimension row per natural key is current. A title change closes the current
// row and opens a new one at the same instant, so validity windows abut. See
// [DecidePageChange].
package domain
