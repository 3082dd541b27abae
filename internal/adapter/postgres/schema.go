// Package postgres implements the warehouse on Postgres: an append-only raw
// layer, the core dimensional model, materialized aggregates and a run log.
package postgres

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS raw;
CREATE SCHEMA IF NOT EXISTS core;
CREATE SCHEMA IF NOT EXISTS mart;
CREATE SCHEMA IF NOT EXISTS ops;

CREATE TABLE IF NOT EXISTS raw.weather_observations (
    id            BIGSERIAL PRIMARY KEY,
    location_name TEXT NOT NULL,
    latitude      DOUBLE PRECISION NOT NULL,
    longitude     DOUBLE PRECISION NOT NULL,
    payload       JSONB NOT NULL,
    fetched_at    TIMESTAMPTZ NOT NULL,
    source        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_weather_latest
    ON raw.weather_observations (location_name, latitude, longitude, fetched_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS raw.wikipedia_pages (
    id                  BIGSERIAL PRIMARY KEY,
    page_title          TEXT NOT NULL,
    page_language       TEXT NOT NULL,
    page_id             BIGINT,
    revision_id         TEXT,
    revision_timestamp  TIMESTAMPTZ,
    revision_size_bytes BIGINT NOT NULL,
    payload             JSONB NOT NULL,
    fetched_at          TIMESTAMPTZ NOT NULL,
    source              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_pages_latest
    ON raw.wikipedia_pages (page_title, page_language, fetched_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS core.location (
    location_id   BIGSERIAL PRIMARY KEY,
    location_name TEXT NOT NULL,
    latitude      DOUBLE PRECISION NOT NULL,
    longitude     DOUBLE PRECISION NOT NULL,
    country       TEXT NOT NULL DEFAULT '',
    region        TEXT NOT NULL DEFAULT '',
    city          TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (location_name, latitude, longitude)
);

CREATE TABLE IF NOT EXISTS core.weather (
    location_id         BIGINT NOT NULL REFERENCES core.location (location_id),
    observed_at         TIMESTAMPTZ NOT NULL,
    temperature_celsius DOUBLE PRECISION,
    humidity_percent    DOUBLE PRECISION,
    wind_speed_mps      DOUBLE PRECISION,
    precipitation_mm    DOUBLE PRECISION,
    cloud_cover_percent DOUBLE PRECISION,
    raw_ref             JSONB NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (location_id, observed_at)
);

CREATE TABLE IF NOT EXISTS core.wikipedia_page (
    page_key          BIGSERIAL PRIMARY KEY,
    wikipedia_page_id BIGINT NOT NULL,
    page_language     TEXT NOT NULL,
    page_title        TEXT NOT NULL,
    namespace         INTEGER NOT NULL DEFAULT 0,
    valid_from        TIMESTAMPTZ NOT NULL,
    valid_to          TIMESTAMPTZ,
    is_current        BOOLEAN NOT NULL,
    CHECK (is_current = (valid_to IS NULL))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_wikipedia_page_current
    ON core.wikipedia_page (wikipedia_page_id, page_language) WHERE is_current;

CREATE TABLE IF NOT EXISTS core.revision (
    page_key           BIGINT NOT NULL REFERENCES core.wikipedia_page (page_key),
    revision_id        TEXT NOT NULL,
    revision_timestamp TIMESTAMPTZ NOT NULL,
    content_len        BIGINT NOT NULL,
    fetched_at         TIMESTAMPTZ NOT NULL,
    raw_ref            JSONB NOT NULL,
    PRIMARY KEY (page_key, revision_id)
);
CREATE INDEX IF NOT EXISTS idx_revision_fetched_at ON core.revision (fetched_at);

CREATE MATERIALIZED VIEW IF NOT EXISTS mart.daily_weather_aggregates AS
SELECT
    w.location_id,
    (w.observed_at AT TIME ZONE 'UTC')::date AS observation_date,
    AVG(w.temperature_celsius)               AS avg_temperature_celsius,
    MIN(w.temperature_celsius)               AS min_temperature_celsius,
    MAX(w.temperature_celsius)               AS max_temperature_celsius,
    AVG(w.humidity_percent)                  AS avg_humidity_percent,
    MAX(w.wind_speed_mps)                    AS max_wind_speed_mps,
    SUM(w.precipitation_mm)                  AS total_precipitation_mm,
    COUNT(*)                                 AS observation_count
FROM core.weather w
GROUP BY w.location_id, (w.observed_at AT TIME ZONE 'UTC')::date
WITH DATA;
CREATE UNIQUE INDEX IF NOT EXISTS uq_daily_weather_aggregates
    ON mart.daily_weather_aggregates (location_id, observation_date);

CREATE MATERIALIZED VIEW IF NOT EXISTS mart.daily_wikipedia_page_stats AS
SELECT
    r.page_key,
    (r.revision_timestamp AT TIME ZONE 'UTC')::date AS revision_date,
    COUNT(*)                                        AS revision_count,
    MAX(r.content_len)                              AS max_content_len
FROM core.revision r
GROUP BY r.page_key, (r.revision_timestamp AT TIME ZONE 'UTC')::date
WITH DATA;
CREATE UNIQUE INDEX IF NOT EXISTS uq_daily_wikipedia_page_stats
    ON mart.daily_wikipedia_page_stats (page_key, revision_date);

CREATE TABLE IF NOT EXISTS ops.pipeline_runs (
    run_id      TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    report      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON ops.pipeline_runs (started_at DESC);
`
