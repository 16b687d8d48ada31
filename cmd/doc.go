// Package cmd implements the crawl-admission command line.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /v1/crawl plus health and metrics endpoints. The body is decoded
//     into an admission.SubmissionRequest together with the Authorization and x-idempotency-key headers.
//   - Admission pipeline: internal/admission.Pipeline runs each request through authentication and rate limiting,
//     idempotency registration, credit reservation, URL presence, the domain blocklist and URL normalization, in that
//     order, and returns one terminal decision.
//   - Backends: idempotency keys live in memory, Postgres or Redis; credits in memory, Postgres or nowhere
//     (unlimited); rate-limit windows in process or in Redis. Selection is per config section.
//   - Hand-off: accepted payloads are pushed into a bounded in-memory queue without blocking the response, then
//     forwarded by a small worker pool to Kafka, Pub/Sub or an in-memory publisher. On SIGTERM the HTTP server stops
//     first and the queue drains within the shutdown budget.
//   - Audit & tracing: every decision is recorded through internal/audit to zap and optionally a Postgres table;
//     OpenTelemetry spans cover each request and each pipeline run when tracing is enabled.
//   - Configuration & plumbing: Viper populates config from env/files (prefix ADMISSION_); zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Commands:
//   - serve: run the HTTP service.
//   - check-url: run a URL through the blocklist and normalizer offline.
//   - issue-token: mint an HS256 bearer token for a tenant using auth.jwt.secret.
//   - grant-credits: add credits to a tenant in the Postgres ledger.
package cmd
