package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// JobStore implements scrape.JobStore against scrape_jobs.
type JobStore struct {
	db   DB
	caps Capabilities
}

// NewJobStore builds a JobStore.
func NewJobStore(db DB, caps Capabilities) *JobStore {
	return &JobStore{db: db, caps: caps}
}

// CreateJob inserts a PENDING job.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) error {
	if job.ID == "" || job.UserID == "" || job.URL == "" {
		return fmt.Errorf("job id, user id and url are required")
	}
	query := `
INSERT INTO scrape_jobs (id, user_id, url, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)`
	if _, err := s.db.Exec(ctx, query, job.ID, job.UserID, job.URL, string(scrape.JobStatusPending), job.CreatedAt); err != nil {
		return fmt.Errorf("insert scrape job: %w", err)
	}
	return nil
}

// GetJob loads a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	totalCol := "NULL::integer"
	if s.caps.TotalRecords {
		totalCol = "total_records"
	}
	query := fmt.Sprintf(`
SELECT id, user_id, url, status, started_at, completed_at, error, %s, created_at, updated_at
FROM scrape_jobs
WHERE id = $1`, totalCol)

	var (
		job         scrape.Job
		status      string
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		errText     pgtype.Text
		total       pgtype.Int4
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.UserID, &job.URL, &status, &startedAt, &completedAt, &errText, &total,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrJobNotFound)
		}
		return scrape.Job{}, fmt.Errorf("select scrape job: %w", err)
	}
	job.Status = scrape.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if errText.Valid {
		job.Error = errText.String
	}
	if total.Valid {
		n := int(total.Int32)
		job.TotalRecords = &n
	}
	return job, nil
}

// MarkProcessing claims a PENDING job. A job in any other state yields
// scrape.ErrJobStateConflict.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
UPDATE scrape_jobs
SET status = $2, started_at = $3, updated_at = $3
WHERE id = $1 AND status = $4`
	tag, err := s.db.Exec(ctx, query, jobID,
		string(scrape.JobStatusProcessing), startedAt, string(scrape.JobStatusPending))
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrJobStateConflict)
	}
	return nil
}

// SetTotalRecords stores the advertised record total. Without the
// total_records column it is a no-op.
func (s *JobStore) SetTotalRecords(ctx context.Context, jobID string, total int) error {
	if !s.caps.TotalRecords {
		return nil
	}
	query := `UPDATE scrape_jobs SET total_records = $2, updated_at = now() WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, jobID, total); err != nil {
		return fmt.Errorf("update total records: %w", err)
	}
	return nil
}

// CompleteJob moves a PROCESSING job to COMPLETED. note is stored in the
// error column when non-empty.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, completedAt time.Time, note string) error {
	query := `
UPDATE scrape_jobs
SET status = $2, completed_at = $3, updated_at = $3, error = NULLIF($4, '')
WHERE id = $1 AND status = $5`
	tag, err := s.db.Exec(ctx, query, jobID,
		string(scrape.JobStatusCompleted), completedAt, note, string(scrape.JobStatusProcessing))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", jobID, scrape.ErrJobStateConflict)
	}
	return nil
}

// FailJob moves a non-terminal job to FAILED with reason.
func (s *JobStore) FailJob(ctx context.Context, jobID string, completedAt time.Time, reason string) error {
	query := `
UPDATE scrape_jobs
SET status = $2, completed_at = $3, updated_at = $3, error = $4
WHERE id = $1 AND status IN ($5, $6)`
	tag, err := s.db.Exec(ctx, query, jobID,
		string(scrape.JobStatusFailed), completedAt, reason,
		string(scrape.JobStatusPending), string(scrape.JobStatusProcessing))
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail job %s: %w", jobID, scrape.ErrJobStateConflict)
	}
	return nil
}

// FailStuckJobs fails every PROCESSING job started before startedBefore and
// returns their ids.
func (s *JobStore) FailStuckJobs(ctx context.Context, startedBefore, now time.Time, reason string) ([]string, error) {
	query := `
UPDATE scrape_jobs
SET status = $1, error = $2, completed_at = $3, updated_at = $3
WHERE status = $4 AND started_at < $5
RETURNING id`
	rows, err := s.db.Query(ctx, query,
		string(scrape.JobStatusFailed), reason, now, string(scrape.JobStatusProcessing), startedBefore)
	if err != nil {
		return nil, fmt.Errorf("fail stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stuck job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck jobs: %w", err)
	}
	return ids, nil
}
