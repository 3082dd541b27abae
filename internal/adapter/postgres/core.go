package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// UpsertLocations inserts unseen locations and refreshes descriptive fields
// of known ones in one transaction. It returns the number of new rows.
func (s *Store) UpsertLocations(ctx context.Context, seeds []domain.LocationSeed) (int, error) {
	inserted := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, l := range seeds {
			var isNew bool
			err := tx.QueryRow(ctx, `
				INSERT INTO core.location (location_name, latitude, longitude, country, region, city)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (location_name, latitude, longitude) DO UPDATE SET
					country    = EXCLUDED.country,
					region     = EXCLUDED.region,
					city       = EXCLUDED.city,
					updated_at = NOW()
				RETURNING (xmax = 0)
			`, l.Name, l.Latitude, l.Longitude, l.Country, l.Region, l.City).Scan(&isNew)
			if err != nil {
				return fmt.Errorf("location %s: %w", l.Key(), err)
			}
			if isNew {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, classify("upsert locations", err)
	}
	return inserted, nil
}

// ListLocations returns every location ordered by name.
func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT location_id, location_name, latitude, longitude, country, region, city
		FROM core.location
		ORDER BY location_name, location_id
	`)
	if err != nil {
		return nil, classify("list locations", err)
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		var l domain.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.Country, &l.Region, &l.City); err != nil {
			return nil, classify("scan location", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate locations", err)
	}
	return out, nil
}

// ResolveLocation finds a location by natural key.
func (s *Store) ResolveLocation(ctx context.Context, key domain.LocationKey) (domain.Location, error) {
	l := domain.Location{LocationKey: key}
	err := s.pool.QueryRow(ctx, `
		SELECT location_id, country, region, city
		FROM core.location
		WHERE location_name = $1 AND latitude = $2 AND longitude = $3
	`, key.Name, key.Latitude, key.Longitude).Scan(&l.ID, &l.Country, &l.Region, &l.City)
	if isNoRows(err) {
		return domain.Location{}, fmt.Errorf("%w: %s", domain.ErrLocationNotFound, key)
	}
	if err != nil {
		return domain.Location{}, classify("resolve location", err)
	}
	return l, nil
}

const upsertWeatherSQL = `
	INSERT INTO core.weather (location_id, observed_at, temperature_celsius, humidity_percent,
		wind_speed_mps, precipitation_mm, cloud_cover_percent, raw_ref)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	ON CONFLICT (location_id, observed_at) DO UPDATE SET
		temperature_celsius = EXCLUDED.temperature_celsius,
		humidity_percent    = EXCLUDED.humidity_percent,
		wind_speed_mps      = EXCLUDED.wind_speed_mps,
		precipitation_mm    = EXCLUDED.precipitation_mm,
		cloud_cover_percent = EXCLUDED.cloud_cover_percent,
		raw_ref             = EXCLUDED.raw_ref
`

// UpsertWeatherFacts writes all facts of one payload in a single transaction.
func (s *Store) UpsertWeatherFacts(ctx context.Context, facts []domain.WeatherFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range facts {
			batch.Queue(upsertWeatherSQL, f.LocationID, f.ObservedAt, f.TemperatureCelsius, f.HumidityPercent,
				f.WindSpeedMPS, f.PrecipitationMM, f.CloudCoverPercent, string(f.RawRef.JSON()))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, classify("upsert weather facts", err)
	}
	return len(facts), nil
}

// ApplyPageSnapshot locks the current dimension row for the snapshot's
// natural key, applies the type-2 change and inserts the revision fact, all
// in one transaction. The partial unique index on current rows turns a lost
// race into a unique violation, reported as domain.ErrConflict.
func (s *Store) ApplyPageSnapshot(ctx context.Context, snap domain.PageSnapshot, at time.Time) (domain.PageOutcome, error) {
	var out domain.PageOutcome
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := lockCurrentVersion(ctx, tx, snap.Key)
		if err != nil {
			return err
		}

		out.Change = domain.DecidePageChange(current, snap.Title)
		switch out.Change {
		case domain.PageUnchanged:
			out.PageKey = current.PageKey
		case domain.PageRetitled:
			if _, err := tx.Exec(ctx, `
				UPDATE core.wikipedia_page SET valid_to = $2, is_current = FALSE
				WHERE page_key = $1
			`, current.PageKey, at); err != nil {
				return fmt.Errorf("close page version: %w", err)
			}
			fallthrough
		case domain.PageInserted:
			v := domain.OpenVersion(snap, at)
			if err := tx.QueryRow(ctx, `
				INSERT INTO core.wikipedia_page
					(wikipedia_page_id, page_language, page_title, namespace, valid_from, valid_to, is_current)
				VALUES ($1, $2, $3, $4, $5, NULL, TRUE)
				RETURNING page_key
			`, v.Key.WikipediaPageID, v.Key.Language, v.Title, v.Namespace, v.ValidFrom).Scan(&out.PageKey); err != nil {
				return fmt.Errorf("open page version: %w", err)
			}
		}

		rev := snap.Revision(out.PageKey)
		tag, err := tx.Exec(ctx, `
			INSERT INTO core.revision (page_key, revision_id, revision_timestamp, content_len, fetched_at, raw_ref)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)
			ON CONFLICT (page_key, revision_id) DO NOTHING
		`, rev.PageKey, rev.RevisionID, rev.RevisionTimestamp, rev.ContentLen, rev.FetchedAt, string(rev.RawRef.JSON()))
		if err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		out.RevisionInserted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return domain.PageOutcome{}, classify(fmt.Sprintf("apply page %s", snap.Key), err)
	}
	return out, nil
}

func lockCurrentVersion(ctx context.Context, tx pgx.Tx, key domain.PageKey) (*domain.PageVersion, error) {
	v := domain.PageVersion{Key: key, IsCurrent: true}
	err := tx.QueryRow(ctx, `
		SELECT page_key, page_title, namespace, valid_from
		FROM core.wikipedia_page
		WHERE wikipedia_page_id = $1 AND page_language = $2 AND is_current
		FOR UPDATE
	`, key.WikipediaPageID, key.Language).Scan(&v.PageKey, &v.Title, &v.Namespace, &v.ValidFrom)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock current page version: %w", err)
	}
	return &v, nil
}

// WeatherFactsBetween returns one location's facts in [from, to), ordered by
// time.
func (s *Store) WeatherFactsBetween(ctx context.Context, locationID int64, from, to time.Time) ([]domain.WeatherFact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT observed_at, temperature_celsius, humidity_percent, wind_speed_mps,
			precipitation_mm, cloud_cover_percent, raw_ref
		FROM core.weather
		WHERE location_id = $1 AND observed_at >= $2 AND observed_at < $3
		ORDER BY observed_at
	`, locationID, from, to)
	if err != nil {
		return nil, classify("query weather facts", err)
	}
	defer rows.Close()

	var out []domain.WeatherFact
	for rows.Next() {
		f := domain.WeatherFact{LocationID: locationID}
		if err := rows.Scan(&f.ObservedAt, &f.TemperatureCelsius, &f.HumidityPercent, &f.WindSpeedMPS,
			&f.PrecipitationMM, &f.CloudCoverPercent, &f.RawRef); err != nil {
			return nil, classify("scan weather fact", err)
		}
		f.ObservedAt = f.ObservedAt.UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate weather facts", err)
	}
	return out, nil
}
