package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RefreshAggregate refreshes one materialized view. When the view has a
// unique index the refresh runs CONCURRENTLY so readers are never blocked;
// otherwise it falls back to a plain refresh. The returned flag reports which
// mode ran.
func (s *Store) RefreshAggregate(ctx context.Context, view string) (bool, error) {
	schema, name, ok := strings.Cut(view, ".")
	if !ok || schema == "" || name == "" {
		return false, fmt.Errorf("refresh %s: view must be schema-qualified", view)
	}

	concurrent, err := s.hasUniqueIndex(ctx, schema, name)
	if err != nil {
		return false, err
	}

	stmt := "REFRESH MATERIALIZED VIEW "
	if concurrent {
		stmt += "CONCURRENTLY "
	}
	stmt += pgx.Identifier{schema, name}.Sanitize()

	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return concurrent, classify("refresh "+view, err)
	}
	return concurrent, nil
}

func (s *Store) hasUniqueIndex(ctx context.Context, schema, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = $1 AND tablename = $2 AND indexdef LIKE 'CREATE UNIQUE INDEX%'
		)
	`, schema, name).Scan(&exists)
	if err != nil {
		return false, classify("inspect indexes of "+schema+"."+name, err)
	}
	return exists, nil
}
