// Package api hosts the status server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for a snapshot of the active run.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/rows for the run
//     ledger through the RunHistory interface.
package api
