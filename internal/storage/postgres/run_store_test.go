package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgramStoreWithPool(mock, "program_rows")
	require.NoError(t, err)

	started := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(5 * time.Minute)
	totals := crawler.RunTotals{Entries: 2, Programs: 2, Items: 2, Rows: 3}

	mock.ExpectExec("INSERT INTO program_rows_runs").
		WithArgs("run-1", "https://example.edu/catalog", started, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE program_rows_runs").
		WithArgs(finished, "success", 2, 2, 0, 2, 3, (*string)(nil), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, store.StartRun(ctx, "run-1", started, "https://example.edu/catalog"))
	require.NoError(t, store.CompleteRun(ctx, "run-1", finished, crawler.RunSuccess, totals, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunRecordsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgramStoreWithPool(mock, "program_rows")
	require.NoError(t, err)

	finished := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	msg := "list entries: http error 503"
	mock.ExpectExec("UPDATE program_rows_runs").
		WithArgs(finished, "error", 0, 0, 0, 0, 0, &msg, "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompleteRun(context.Background(), "run-2", finished, crawler.RunError, crawler.RunTotals{}, msg))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Error(t, store.StartRun(context.Background(), "", finished, ""))
}
