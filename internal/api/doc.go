// Package api hosts the ops HTTP server of a running crawl:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawl/stats for live crawl counters.
//   - GET /v1/crawl/events for the most recent progress events.
package api
