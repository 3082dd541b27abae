package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// RecordRun upserts a run report into ops.pipeline_runs.
func (s *Store) RecordRun(ctx context.Context, report domain.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ops.pipeline_runs (run_id, status, started_at, finished_at, report)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (run_id) DO UPDATE SET
			status      = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			report      = EXCLUDED.report
	`, report.RunID, string(report.Status), report.StartedAt, report.FinishedAt, string(body))
	if err != nil {
		return classify("record run", err)
	}
	return nil
}

// LastRun returns the most recently started run, or false when the log is
// empty.
func (s *Store) LastRun(ctx context.Context) (domain.RunReport, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT report FROM ops.pipeline_runs ORDER BY started_at DESC LIMIT 1
	`).Scan(&body)
	if err != nil {
		if isNoRows(err) {
			return domain.RunReport{}, false, nil
		}
		return domain.RunReport{}, false, classify("last run", err)
	}
	var report domain.RunReport
	if err := json.Unmarshal(body, &report); err != nil {
		return domain.RunReport{}, false, fmt.Errorf("decode run report: %w", err)
	}
	return report, true, nil
}
