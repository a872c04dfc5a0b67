// Package worker runs scrape jobs delivered by the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/extract"
	"github.com/JakeFAU/auction-ingest/internal/metrics"
	"github.com/JakeFAU/auction-ingest/internal/normalize"
	"github.com/JakeFAU/auction-ingest/internal/queue"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

const (
	defaultJobTimeout = 5 * time.Minute
	outcomeSkipped    = "skipped"
)

// Config controls Processor behavior.
type Config struct {
	// JobTimeout bounds one job from processing start through extraction.
	JobTimeout time.Duration
	// NotifyTopic receives a scrape.Outcome per finished job when a publisher is set.
	NotifyTopic string
}

// Deps are the collaborators a Processor drives.
type Deps struct {
	Jobs        scrape.JobStore
	Listings    scrape.ListingStore
	Credentials scrape.CredentialSource
	Browser     scrape.Browser
	Extractor   *extract.Engine
	Normalizer  *normalize.Normalizer
	IDs         scrape.IDGenerator
	Clock       scrape.Clock
	// Publisher is optional.
	Publisher scrape.Publisher
	// Limiter is optional. It spaces out job starts against one portal host.
	Limiter HostLimiter
}

// HostLimiter blocks until a job may start against url's host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Processor turns one queue message into one finished scrape job.
type Processor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Processor.
func New(deps Deps, cfg Config, logger *zap.Logger) *Processor {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{deps: deps, cfg: cfg, logger: logger.Named("worker")}
}

// Handle implements queue.Handler.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) (queue.Result, error) {
	var payload scrape.QueuePayload
	if err := msg.Decode(&payload); err != nil {
		p.logger.Error("dropping undecodable message", zap.Int64("msg_id", msg.ID), zap.Error(err))
		return queue.Ack, nil
	}
	if payload.JobID == "" {
		p.logger.Error("dropping message without job id", zap.Int64("msg_id", msg.ID))
		return queue.Ack, nil
	}
	log := p.logger.With(
		zap.String("job_id", payload.JobID),
		zap.Int64("msg_id", msg.ID),
		zap.Int64("read_count", msg.ReadCount),
	)

	job, err := p.deps.Jobs.GetJob(ctx, payload.JobID)
	if errors.Is(err, scrape.ErrJobNotFound) {
		log.Warn("job not found, acknowledging")
		return queue.Ack, nil
	}
	if err != nil {
		return queue.Retry, fmt.Errorf("load job %s: %w", payload.JobID, err)
	}
	if job.Status != scrape.JobStatusPending {
		log.Info("job already handled, skipping", zap.String("status", string(job.Status)))
		metrics.ObserveJob(outcomeSkipped, 0)
		return queue.Ack, nil
	}
	if job.URL == "" {
		job.URL = payload.URL
	}
	if job.UserID == "" {
		job.UserID = payload.UserID
	}

	started := p.deps.Clock.Now()
	if err := p.deps.Jobs.MarkProcessing(ctx, job.ID, started); err != nil {
		if errors.Is(err, scrape.ErrJobStateConflict) {
			log.Info("job claimed elsewhere, skipping")
			metrics.ObserveJob(outcomeSkipped, 0)
			return queue.Ack, nil
		}
		return queue.Retry, fmt.Errorf("mark job %s processing: %w", job.ID, err)
	}
	log.Info("processing job", zap.String("user_id", job.UserID))

	outcome, runErr := p.run(ctx, log, job)
	finishedAt := p.deps.Clock.Now()
	if runErr != nil {
		outcome.Status = scrape.JobStatusFailed
		if err := p.deps.Jobs.FailJob(ctx, job.ID, finishedAt, runErr.Error()); err != nil {
			return queue.Retry, fmt.Errorf("record job %s failure: %w", job.ID, err)
		}
		log.Error("job failed", zap.Error(runErr))
	} else {
		outcome.Status = scrape.JobStatusCompleted
		if err := p.deps.Jobs.CompleteJob(ctx, job.ID, finishedAt, outcome.Note); err != nil {
			return queue.Retry, fmt.Errorf("record job %s completion: %w", job.ID, err)
		}
		log.Info("job completed",
			zap.Int("total_records", outcome.TotalRecords),
			zap.Int("inserted", outcome.Inserted),
			zap.Int("failed", outcome.Failed),
		)
	}
	metrics.ObserveJob(string(outcome.Status), finishedAt.Sub(started))
	p.notify(ctx, log, outcome)
	return queue.Ack, nil
}

// run does the browser and persistence work. Any returned error fails the job.
func (p *Processor) run(ctx context.Context, log *zap.Logger, job scrape.Job) (scrape.Outcome, error) {
	outcome := scrape.Outcome{JobID: job.ID}

	// Credential lookup counts against the job deadline.
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	timedOut := func(err error) error {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("job timed out after %s", p.cfg.JobTimeout)
		}
		return err
	}

	creds, err := p.deps.Credentials.Resolve(jobCtx, job.UserID)
	if err != nil {
		return outcome, timedOut(fmt.Errorf("resolve credentials for user %s: %w", job.UserID, err))
	}
	if creds.TargetURL != "" && creds.TargetURL != job.URL {
		log.Debug("stored target differs from job url", zap.String("target_url", creds.TargetURL))
	}

	extraction, err := p.extract(jobCtx, log, job, creds)
	if err != nil {
		return outcome, timedOut(err)
	}
	outcome.TotalRecords = extraction.TotalRecords

	inserted, failed := p.persist(ctx, log, job.ID, extraction.Listings)
	outcome.Inserted, outcome.Failed = inserted, failed
	metrics.ObserveListings(inserted, failed)

	total := len(extraction.Listings)
	switch {
	case total > 0 && inserted == 0:
		return outcome, fmt.Errorf("All %d listing inserts failed", total)
	case failed > 0:
		outcome.Note = fmt.Sprintf("%d of %d listing inserts failed", failed, total)
	}
	return outcome, nil
}

// extract owns the browser session for the duration of one job.
func (p *Processor) extract(ctx context.Context, log *zap.Logger, job scrape.Job, creds scrape.Credentials) (scrape.Extraction, error) {
	if p.deps.Limiter != nil {
		if err := p.deps.Limiter.Wait(ctx, job.URL); err != nil {
			return scrape.Extraction{}, err
		}
	}
	session, err := p.deps.Browser.Acquire(ctx)
	if err != nil {
		return scrape.Extraction{}, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("browser close failed", zap.Error(err))
		}
	}()
	return p.deps.Extractor.Extract(ctx, session, job, creds)
}

func (p *Processor) persist(ctx context.Context, log *zap.Logger, jobID string, raws []scrape.RawListing) (inserted, failed int) {
	for _, raw := range raws {
		listing := p.deps.Normalizer.Listing(jobID, raw)
		id, err := p.deps.IDs.NewID()
		if err != nil {
			failed++
			log.Warn("listing id generation failed", zap.String("address", raw.Address), zap.Error(err))
			continue
		}
		listing.ID = id
		if err := p.deps.Listings.UpsertListing(ctx, listing); err != nil {
			failed++
			perr := &scrape.PersistenceError{Address: raw.Address, Err: err}
			log.Warn("listing upsert failed", zap.Error(perr))
			continue
		}
		inserted++
	}
	return inserted, failed
}

func (p *Processor) notify(ctx context.Context, log *zap.Logger, outcome scrape.Outcome) {
	if p.deps.Publisher == nil || p.cfg.NotifyTopic == "" {
		return
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.NotifyTopic, outcome)
	if err != nil {
		log.Warn("outcome publish failed", zap.Error(err))
		return
	}
	log.Debug("outcome published", zap.String("message_id", id))
}
