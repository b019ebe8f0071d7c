package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestRunsListFiltersAndPages(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{runs: []crawler.RunInfo{
		{RunID: "run-2", Status: crawler.RunError, StartedAt: time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), Error: "boom"},
	}}
	s := NewServer(nil, history, Config{}, nil)

	rec := serve(t, s, http.MethodGet, "/v1/runs?status=failed&limit=1000&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, crawler.RunError, history.gotStatus)
	assert.Equal(t, maxRunLimit, history.gotLimit)
	assert.Equal(t, 5, history.gotOffset)

	var body struct {
		Runs []crawler.RunInfo `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "boom", body.Runs[0].Error)
}

func TestRunsListDefaults(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{}
	s := NewServer(nil, history, Config{}, nil)

	rec := serve(t, s, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, crawler.RunStatus(""), history.gotStatus)
	assert.Equal(t, defaultRunLimit, history.gotLimit)
	assert.Zero(t, history.gotOffset)
}

func TestRunsListRejectsBadQuery(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, &fakeHistory{}, Config{}, nil)
	for _, target := range []string{
		"/v1/runs?limit=-1",
		"/v1/runs?limit=abc",
		"/v1/runs?offset=-3",
		"/v1/runs?status=queued",
	} {
		rec := serve(t, s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRunsLedgerErrors(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, &fakeHistory{err: errors.New("db down")}, Config{}, nil)
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, http.MethodGet, "/v1/runs", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, http.MethodGet, "/v1/runs/run-1", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, http.MethodGet, "/v1/runs/run-1/rows", nil).Code)

	s = NewServer(nil, nil, Config{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/runs/run-1", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/runs/run-1/rows", nil).Code)
}

func TestRunsGet(t *testing.T) {
	t.Parallel()

	finished := time.Date(2024, 9, 1, 12, 5, 0, 0, time.UTC)
	history := &fakeHistory{runs: []crawler.RunInfo{{
		RunID:      "run-1",
		Status:     crawler.RunSuccess,
		StartedAt:  finished.Add(-5 * time.Minute),
		FinishedAt: &finished,
		Totals:     crawler.RunTotals{Entries: 2, Programs: 2, Rows: 3},
	}}}
	s := NewServer(nil, history, Config{}, nil)

	rec := serve(t, s, http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run crawler.RunInfo `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Run.Totals.Rows)
	require.NotNil(t, body.Run.FinishedAt)
	assert.True(t, finished.Equal(*body.Run.FinishedAt))

	rec = serve(t, s, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsRowsUseHeaderColumns(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{rows: []crawler.Row{{
		ProgramName: "Grau en Física",
		ItemName:    "Mecànica",
		ItemTerm:    "1",
	}}}
	s := NewServer(nil, history, Config{}, nil)

	rec := serve(t, s, http.MethodGet, "/v1/runs/run-1/rows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Rows []map[string]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "Grau en Física", body.Rows[0]["Program Name"])
	assert.Equal(t, "Mecànica", body.Rows[0]["Item Name"])
	assert.Equal(t, "", body.Rows[0]["Item Mention"])
	assert.Len(t, body.Rows[0], len(crawler.RowHeader))
}
