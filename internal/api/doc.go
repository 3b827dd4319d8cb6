// Package api hosts the operator HTTP server that runs alongside a harvest.
// Routes:
//   - GET /healthz and /readyz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/summary for the live run summary.
//   - GET /v1/budget for per-channel budget state.
package api
