// Package sqlite persists flattened program rows and run history in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Store is a ProgramSink and RunRecorder backed by a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema exists.
// The parent directory must already exist.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS program_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		program_name TEXT NOT NULL,
		program_url TEXT NOT NULL,
		program_credits TEXT NOT NULL DEFAULT '',
		item_name TEXT NOT NULL DEFAULT '',
		item_url TEXT NOT NULL DEFAULT '',
		item_credits TEXT NOT NULL DEFAULT '',
		item_category TEXT NOT NULL DEFAULT '',
		item_term TEXT NOT NULL DEFAULT '',
		item_mention TEXT NOT NULL DEFAULT '',
		inserted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id, program_url, row_index)
	);

	CREATE INDEX IF NOT EXISTS idx_program_rows_run ON program_rows(run_id);

	CREATE TABLE IF NOT EXISTS crawl_runs (
		run_id TEXT PRIMARY KEY,
		catalog_url TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		entries INTEGER NOT NULL DEFAULT 0,
		programs INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		items INTEGER NOT NULL DEFAULT 0,
		rows_written INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// WriteProgram inserts the program's flattened rows in one transaction.
func (s *Store) WriteProgram(ctx context.Context, runID string, program crawler.ProgramRecord) (err error) {
	if runID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO program_rows (
			run_id, row_index, program_name, program_url, program_credits,
			item_name, item_url, item_credits, item_category, item_term, item_mention
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range crawler.Flatten(program) {
		_, err = stmt.ExecContext(ctx,
			runID, i,
			row.ProgramName, row.ProgramURL, row.ProgramCredits,
			row.ItemName, row.ItemURL, row.ItemCredits, row.ItemCategory, row.ItemTerm, row.ItemMention,
		)
		if err != nil {
			return fmt.Errorf("insert program row %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// StartRun inserts or resets the run as running.
func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time, catalogURL string) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_runs (run_id, catalog_url, started_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET started_at = excluded.started_at, status = excluded.status
	`, runID, catalogURL, startedAt.UTC(), string(crawler.RunRunning))
	if err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its totals and optional error message.
func (s *Store) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status crawler.RunStatus,
	totals crawler.RunTotals,
	errMsg string,
) error {
	message := sql.NullString{String: errMsg, Valid: errMsg != ""}
	_, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs
		SET finished_at = ?, status = ?, entries = ?, programs = ?, failed = ?,
			items = ?, rows_written = ?, error_message = ?
		WHERE run_id = ?
	`, finishedAt.UTC(), string(status), totals.Entries, totals.Programs, totals.Failed,
		totals.Items, totals.Rows, message, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// ProgramRows returns the stored rows of a run in insertion order.
func (s *Store) ProgramRows(ctx context.Context, runID string) ([]crawler.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT program_name, program_url, program_credits, item_name, item_url,
			item_credits, item_category, item_term, item_mention
		FROM program_rows
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query program rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.Row
	for rows.Next() {
		var r crawler.Row
		if err := rows.Scan(
			&r.ProgramName, &r.ProgramURL, &r.ProgramCredits, &r.ItemName, &r.ItemURL,
			&r.ItemCredits, &r.ItemCategory, &r.ItemTerm, &r.ItemMention,
		); err != nil {
			return nil, fmt.Errorf("scan program row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate program rows: %w", err)
	}
	return out, nil
}

const runColumns = `run_id, catalog_url, started_at, finished_at, status,
	entries, programs, failed, items, rows_written, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (crawler.RunInfo, error) {
	var (
		info     crawler.RunInfo
		status   string
		finished sql.NullTime
		message  sql.NullString
	)
	if err := row.Scan(
		&info.RunID, &info.CatalogURL, &info.StartedAt, &finished, &status,
		&info.Totals.Entries, &info.Totals.Programs, &info.Totals.Failed,
		&info.Totals.Items, &info.Totals.Rows, &message,
	); err != nil {
		return crawler.RunInfo{}, err
	}
	info.Status = crawler.RunStatus(status)
	if finished.Valid {
		t := finished.Time.UTC()
		info.FinishedAt = &t
	}
	info.StartedAt = info.StartedAt.UTC()
	info.Error = message.String
	return info, nil
}

// GetRun returns one recorded run, or crawler.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE run_id = ?`, runID)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.RunInfo{}, fmt.Errorf("run %s: %w", runID, crawler.ErrRunNotFound)
	}
	if err != nil {
		return crawler.RunInfo{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	return info, nil
}

// ListRuns returns recorded runs, newest first. An empty status matches every run.
func (s *Store) ListRuns(ctx context.Context, status crawler.RunStatus, limit, offset int) ([]crawler.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM crawl_runs
		WHERE (? = '' OR status = ?)
		ORDER BY started_at DESC, run_id
		LIMIT ? OFFSET ?
	`, string(status), string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []crawler.RunInfo{}
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
