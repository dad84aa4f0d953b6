// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape and /v1/sites/{id}/scrape to trigger crawls.
//   - /v1/sites and /v1/events for catalog management.
//   - GET /v1/progress and /v1/progress/stream for live run status.
package api
