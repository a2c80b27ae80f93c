// Package api hosts the optional status server. Routes:
//   - GET /healthz and /readyz for probes; readyz reports pool readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/pool for a pool stats snapshot.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/pages for run
//     history when a run repository is configured.
package api
