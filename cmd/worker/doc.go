// Package main hosts the auction listing scrape worker.
//
// Architecture overview:
//   - Queue: scrape jobs arrive as {"jobId": ...} messages on a pgmq queue (or the in-memory queue in
//     development). The subscriber reads one message at a time with a visibility timeout and deletes it only
//     after the job reaches a final status; a crashed worker's message reappears for another attempt.
//   - Processing: internal/worker loads the job, skips anything not PENDING, marks it PROCESSING, resolves the
//     user's portal credentials (AES-GCM envelopes), and launches one stealth Chrome session via chromedp.
//   - Extraction: internal/extract logs in when the portal redirects to its login page, waits for the result
//     footer, parses every result card with goquery, and paginates through "Next" until the advertised record
//     count is reached. Raw pages can be archived to memory, local disk or GCS.
//   - Persistence: listings are normalized (prices with shopspring/decimal, dd/mm/yyyy dates) and upserted into
//     Postgres on (job_id, property_address). Outcomes optionally go to Pub/Sub.
//   - Sweeper: PROCESSING jobs older than sweeper.stale_after are failed so they never hang forever.
//   - HTTP: /healthz, /readyz, /metrics and /v1/jobs for submitting and inspecting jobs.
//
// Quick checklist:
//   - Configure env vars: INGEST_DATABASE_DSN, INGEST_QUEUE_BACKEND (pgmq|memory),
//     INGEST_CREDENTIALS_ENCRYPTION_KEY (base64, 32 bytes), INGEST_BROWSER_EXEC_PATH and INGEST_BROWSER_NO_SANDBOX
//     in containers, plus snapshots and notify sections when needed.
//   - Run locally: go run ./cmd/worker -config config.yaml (or rely solely on env overrides).
//   - Shutdown: SIGINT/SIGTERM stops polling, lets the in-flight job finish within the drain timeout, then exits.
package main
