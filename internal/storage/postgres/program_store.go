// Package postgres provides Postgres-backed persistence for extracted programs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "program_rows"

// ProgramStoreConfig controls the Postgres connection pool used for program rows.
type ProgramStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// CreateTable issues CREATE TABLE IF NOT EXISTS on startup.
	CreateTable bool
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProgramStore writes flattened program rows into Postgres, one transaction per
// program, and records run lifecycle in a companion <table>_runs table.
type ProgramStore struct {
	pool  txPool
	table string
}

// NewProgramStore creates a Postgres-backed ProgramStore using the provided config.
func NewProgramStore(ctx context.Context, cfg ProgramStoreConfig) (*ProgramStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewProgramStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewProgramStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgramStoreWithPool(pool txPool, table string) (*ProgramStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProgramStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the rows and runs tables when they do not exist.
func (s *ProgramStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT        NOT NULL,
	row_index       INTEGER     NOT NULL,
	program_name    TEXT        NOT NULL,
	program_url     TEXT        NOT NULL,
	program_credits TEXT        NOT NULL DEFAULT '',
	item_name       TEXT        NOT NULL DEFAULT '',
	item_url        TEXT        NOT NULL DEFAULT '',
	item_credits    TEXT        NOT NULL DEFAULT '',
	item_category   TEXT        NOT NULL DEFAULT '',
	item_term       TEXT        NOT NULL DEFAULT '',
	item_mention    TEXT        NOT NULL DEFAULT '',
	inserted_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, program_url, row_index)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return s.ensureRunsSchema(ctx)
}

// Close releases the underlying pool resources.
func (s *ProgramStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// WriteProgram inserts the program's flattened rows atomically.
func (s *ProgramStore) WriteProgram(ctx context.Context, runID string, program crawler.ProgramRecord) (err error) {
	if s == nil || s.pool == nil {
		return errors.New("program store is not configured")
	}
	if runID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin program insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	row_index,
	program_name,
	program_url,
	program_credits,
	item_name,
	item_url,
	item_credits,
	item_category,
	item_term,
	item_mention
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	for i, row := range crawler.Flatten(program) {
		args := append([]any{runID, i}, toAny(row.Values())...)
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert program row %d: %w", i, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit program insert: %w", err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
