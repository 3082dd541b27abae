package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

func TestClassify_ConflictCodes(t *testing.T) {
	for _, code := range []string{codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected} {
		t.Run(code, func(t *testing.T) {
			err := classify("apply page", &pgconn.PgError{Code: code, Message: "conflict"})
			assert.ErrorIs(t, err, domain.ErrConflict)

			var pgErr *pgconn.PgError
			assert.ErrorAs(t, err, &pgErr)
			assert.Contains(t, err.Error(), "apply page")
		})
	}
}

func TestClassify_OtherErrors(t *testing.T) {
	err := classify("upsert", &pgconn.PgError{Code: "23503", Message: "foreign key violation"})
	assert.NotErrorIs(t, err, domain.ErrConflict)

	plain := errors.New("connection reset")
	err = classify("upsert", plain)
	assert.ErrorIs(t, err, plain)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, isNoRows(pgx.ErrNoRows))
	assert.True(t, isNoRows(classify("q", pgx.ErrNoRows)))
	assert.False(t, isNoRows(errors.New("x")))
}

func TestSchemaDDL_DeclaresWarehouseObjects(t *testing.T) {
	for _, obj := range []string{
		"raw.weather_observations",
		"raw.wikipedia_pages",
		"core.location",
		"core.weather",
		"core.wikipedia_page",
		"core.revision",
		domain.ViewDailyWeather,
		domain.ViewDailyPageStats,
		"ops.pipeline_runs",
		"WHERE is_current",
	} {
		assert.Contains(t, schemaDDL, obj)
	}
}
