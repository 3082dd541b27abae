package postgres

import (
	"context"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// AppendWeather lands a raw weather payload and returns its id.
func (s *Store) AppendWeather(ctx context.Context, raw domain.RawWeather) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw.weather_observations (location_name, latitude, longitude, payload, fetched_at, source)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		RETURNING id
	`, raw.Location.Name, raw.Location.Latitude, raw.Location.Longitude, string(raw.Payload), raw.FetchedAt, raw.Source).Scan(&id)
	if err != nil {
		return 0, classify("append raw weather", err)
	}
	return id, nil
}

// AppendPage lands a raw page payload and returns its id. The summary's page
// id and revision are copied into columns when they parse; the payload itself
// is stored regardless.
func (s *Store) AppendPage(ctx context.Context, raw domain.RawPage) (int64, error) {
	var (
		pageID     *int64
		revisionID *string
		revisedAt  any
	)
	if snap, err := domain.ParsePageSnapshot(raw); err == nil {
		pageID = &snap.Key.WikipediaPageID
		revisionID = &snap.RevisionID
		revisedAt = snap.RevisionTimestamp
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw.wikipedia_pages
			(page_title, page_language, page_id, revision_id, revision_timestamp,
			 revision_size_bytes, payload, fetched_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
		RETURNING id
	`, raw.Title, raw.Language, pageID, revisionID, revisedAt, raw.SizeBytes, string(raw.Payload), raw.FetchedAt, raw.Source).Scan(&id)
	if err != nil {
		return 0, classify("append raw page", err)
	}
	return id, nil
}

// LatestRawWeather returns the newest raw payload per location.
func (s *Store) LatestRawWeather(ctx context.Context) ([]domain.RawWeather, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (location_name, latitude, longitude)
			id, location_name, latitude, longitude, payload, fetched_at, source
		FROM raw.weather_observations
		ORDER BY location_name, latitude, longitude, fetched_at DESC, id DESC
	`)
	if err != nil {
		return nil, classify("query latest raw weather", err)
	}
	defer rows.Close()

	var out []domain.RawWeather
	for rows.Next() {
		var r domain.RawWeather
		if err := rows.Scan(&r.ID, &r.Location.Name, &r.Location.Latitude, &r.Location.Longitude,
			&r.Payload, &r.FetchedAt, &r.Source); err != nil {
			return nil, classify("scan raw weather", err)
		}
		r.FetchedAt = r.FetchedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate raw weather", err)
	}
	return out, nil
}

// LatestRawPages returns the newest raw payload per page natural key
// (page id, language). A title whose newest payload did not parse is returned
// as well so the transform can report it.
func (s *Store) LatestRawPages(ctx context.Context) ([]domain.RawPage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, page_title, page_language, payload, revision_size_bytes, fetched_at, source
		FROM (
			SELECT DISTINCT ON (page_id, page_language)
				id, page_title, page_language, payload, revision_size_bytes, fetched_at, source
			FROM raw.wikipedia_pages
			WHERE page_id IS NOT NULL
			ORDER BY page_id, page_language, fetched_at DESC, id DESC
		) parsed
		UNION ALL
		SELECT id, page_title, page_language, payload, revision_size_bytes, fetched_at, source
		FROM (
			SELECT DISTINCT ON (page_title, page_language)
				id, page_title, page_language, page_id, payload, revision_size_bytes, fetched_at, source
			FROM raw.wikipedia_pages
			ORDER BY page_title, page_language, fetched_at DESC, id DESC
		) latest
		WHERE latest.page_id IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, classify("query latest raw pages", err)
	}
	defer rows.Close()

	var out []domain.RawPage
	for rows.Next() {
		var r domain.RawPage
		if err := rows.Scan(&r.ID, &r.Title, &r.Language, &r.Payload, &r.SizeBytes, &r.FetchedAt, &r.Source); err != nil {
			return nil, classify("scan raw page", err)
		}
		r.FetchedAt = r.FetchedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate raw pages", err)
	}
	return out, nil
}
