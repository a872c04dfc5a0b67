// Package extract drives a logged-in browser page through the paginated
// auction results and collects the raw listing cards.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/metrics"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// MismatchPolicy decides what happens when the card count disagrees with the
// advertised total.
type MismatchPolicy string

const (
	// MismatchReconcile overwrites the stored total with the scraped count.
	MismatchReconcile MismatchPolicy = "reconcile"
	// MismatchFail fails the job with a RecordCountMismatchError.
	MismatchFail MismatchPolicy = "fail"
)

// Valid reports whether p is a known policy.
func (p MismatchPolicy) Valid() bool {
	return p == MismatchReconcile || p == MismatchFail
}

// Options tunes the extraction waits.
type Options struct {
	LoginTimeout      time.Duration
	ResultsTimeout    time.Duration
	PageChangeTimeout time.Duration
	MismatchPolicy    MismatchPolicy
	// MaxPages bounds the pagination loop.
	MaxPages int
}

func (o Options) withDefaults() Options {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 15 * time.Second
	}
	if o.ResultsTimeout <= 0 {
		o.ResultsTimeout = 30 * time.Second
	}
	if o.PageChangeTimeout <= 0 {
		o.PageChangeTimeout = 15 * time.Second
	}
	if !o.MismatchPolicy.Valid() {
		o.MismatchPolicy = MismatchReconcile
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 500
	}
	return o
}

// Engine walks the results pages of one job.
type Engine struct {
	jobs      scrape.JobStore
	creds     scrape.CredsStatusWriter
	snapshots *Snapshotter
	opts      Options
	logger    *zap.Logger
}

// NewEngine builds an Engine. snapshots may be nil.
func NewEngine(jobs scrape.JobStore, creds scrape.CredsStatusWriter, snapshots *Snapshotter, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		jobs:      jobs,
		creds:     creds,
		snapshots: snapshots,
		opts:      opts.withDefaults(),
		logger:    logger.Named("extract"),
	}
}

// Extract signs in if needed and collects every card across all pages.
func (e *Engine) Extract(ctx context.Context, page scrape.Page, job scrape.Job, creds scrape.Credentials) (scrape.Extraction, error) {
	log := e.logger.With(zap.String("job_id", job.ID))
	var out scrape.Extraction

	if err := page.Navigate(ctx, job.URL); err != nil {
		return out, err
	}
	if err := page.Pause(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
		return out, err
	}
	loc, err := page.Location(ctx)
	if err != nil {
		return out, err
	}
	if strings.Contains(loc, loginPattern) {
		if err := e.authenticate(ctx, page, job.UserID, creds); err != nil {
			return out, err
		}
	}

	if err := e.wait(ctx, page, "results footer", resultsReady, e.opts.ResultsTimeout); err != nil {
		return out, err
	}
	doc, html, err := readPage(ctx, page)
	if err != nil {
		return out, err
	}
	out.TotalRecords = FooterTotal(doc)
	log.Info("results loaded", zap.Int("total_records", out.TotalRecords))
	if err := e.jobs.SetTotalRecords(ctx, job.ID, out.TotalRecords); err != nil {
		return out, fmt.Errorf("record total records: %w", err)
	}

	for {
		out.Pages++
		e.snapshot(ctx, job.ID, out.Pages, html)
		cards := ParseCards(doc)
		out.Listings = append(out.Listings, cards...)
		metrics.ObservePage()
		log.Debug("page extracted",
			zap.Int("page", out.Pages),
			zap.Int("cards", len(cards)),
			zap.Int("collected", len(out.Listings)),
		)

		if out.TotalRecords > 0 && len(out.Listings) >= out.TotalRecords {
			break
		}
		if !HasNext(doc) {
			break
		}
		if out.Pages >= e.opts.MaxPages {
			log.Warn("page limit reached, stopping pagination", zap.Int("max_pages", e.opts.MaxPages))
			break
		}

		first := FirstAddress(doc)
		if err := page.Pause(ctx, time.Second, 3*time.Second); err != nil {
			return out, err
		}
		if err := page.Click(ctx, nextLinkXPath); err != nil {
			return out, fmt.Errorf("go to page %d: %w", out.Pages+1, err)
		}
		if err := e.wait(ctx, page, "next page", pageChanged(first), e.opts.PageChangeTimeout); err != nil {
			return out, err
		}
		if doc, html, err = readPage(ctx, page); err != nil {
			return out, err
		}
	}

	if out.TotalRecords > 0 && len(out.Listings) != out.TotalRecords {
		return out, e.reconcile(ctx, log, job.ID, &out)
	}
	return out, nil
}

func (e *Engine) reconcile(ctx context.Context, log *zap.Logger, jobID string, out *scrape.Extraction) error {
	actual := len(out.Listings)
	log.Warn("record count mismatch",
		zap.Int("expected", out.TotalRecords),
		zap.Int("actual", actual),
		zap.String("policy", string(e.opts.MismatchPolicy)),
	)
	metrics.ObserveRecordMismatch()
	if e.opts.MismatchPolicy == MismatchFail {
		return &scrape.RecordCountMismatchError{Expected: out.TotalRecords, Actual: actual}
	}
	if err := e.jobs.SetTotalRecords(ctx, jobID, actual); err != nil {
		return fmt.Errorf("reconcile total records: %w", err)
	}
	out.TotalRecords = actual
	return nil
}

func (e *Engine) wait(ctx context.Context, page scrape.Page, step, predicate string, timeout time.Duration) error {
	err := page.WaitUntil(ctx, predicate, timeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, scrape.ErrWaitTimeout) {
		return &scrape.ExtractionTimeoutError{Step: step, Timeout: timeout, Err: err}
	}
	return fmt.Errorf("wait for %s: %w", step, err)
}

func (e *Engine) snapshot(ctx context.Context, jobID string, pageNum int, html string) {
	if e.snapshots == nil {
		return
	}
	uri, err := e.snapshots.Save(ctx, jobID, pageNum, html)
	if err != nil {
		e.logger.Warn("snapshot failed", zap.String("job_id", jobID), zap.Int("page", pageNum), zap.Error(err))
		return
	}
	e.logger.Debug("snapshot stored", zap.String("job_id", jobID), zap.String("uri", uri))
}

func readPage(ctx context.Context, page scrape.Page) (*goquery.Document, string, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, "", err
	}
	doc, err := ParseDocument(html)
	if err != nil {
		return nil, "", err
	}
	return doc, html, nil
}
