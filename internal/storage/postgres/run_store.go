package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func (s *ProgramStore) runsTable() string {
	return s.table + "_runs"
}

func (s *ProgramStore) ensureRunsSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT        PRIMARY KEY,
	catalog_url   TEXT        NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT        NOT NULL,
	entries       INTEGER     NOT NULL DEFAULT 0,
	programs      INTEGER     NOT NULL DEFAULT 0,
	failed        INTEGER     NOT NULL DEFAULT 0,
	items         INTEGER     NOT NULL DEFAULT 0,
	rows_written  INTEGER     NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.runsTable())
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.runsTable(), err)
	}
	return nil
}

// StartRun inserts or resets the run as running.
func (s *ProgramStore) StartRun(ctx context.Context, runID string, startedAt time.Time, catalogURL string) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, catalog_url, started_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO UPDATE
SET started_at = EXCLUDED.started_at, status = EXCLUDED.status`, s.runsTable())
	if _, err := s.pool.Exec(ctx, query, runID, catalogURL, startedAt, string(crawler.RunRunning)); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its totals and optional error message.
func (s *ProgramStore) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status crawler.RunStatus,
	totals crawler.RunTotals,
	errMsg string,
) error {
	var message *string
	if errMsg != "" {
		message = &errMsg
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, entries = $3, programs = $4, failed = $5,
	items = $6, rows_written = $7, error_message = $8
WHERE run_id = $9`, s.runsTable())
	_, err := s.pool.Exec(ctx, query,
		finishedAt,
		string(status),
		totals.Entries,
		totals.Programs,
		totals.Failed,
		totals.Items,
		totals.Rows,
		message,
		runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}
