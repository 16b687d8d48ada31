// Package api hosts the HTTP server, middleware, and REST handlers for crawl
// admission. Notable routes:
//   - POST /v1/crawl submits a crawl job through the admission pipeline.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
