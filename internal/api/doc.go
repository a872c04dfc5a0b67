// Package api hosts the ops HTTP server. Routes:
//   - GET /healthz and /readyz for probes; readiness pings the database.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a scrape job onto the queue.
//   - GET /v1/jobs/{job_id} to read a job's state.
package api
