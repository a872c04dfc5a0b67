package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/browser/browsertest"
	"github.com/JakeFAU/auction-ingest/internal/credentials"
	"github.com/JakeFAU/auction-ingest/internal/extract"
	"github.com/JakeFAU/auction-ingest/internal/id/uuid"
	"github.com/JakeFAU/auction-ingest/internal/normalize"
	"github.com/JakeFAU/auction-ingest/internal/publisher/memory"
	"github.com/JakeFAU/auction-ingest/internal/queue"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
	memstore "github.com/JakeFAU/auction-ingest/internal/storage/memory"
)

const jobURL = "https://auction.example.com/listing.html"

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func resultsPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><article>`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<div class="col-xs-12 col-sm-6 col-md-4">
<span class="lblStatus">Reserved</span>
<table><tr><td class="three_row">Lot %d, Jalan Tun Razak</td></tr>
<tr><td class="grey-font">Terrace</td></tr>
<tr><td><span class="market-price">RM 250,000.00</span> (Market Value: RM 300,000.00)</td></tr></table>
<label>Auction Date: 20/05/2024</label><label>Tenure: Leasehold</label>
<label>Land Area: 1,650 sq.ft</label><label>Created Date: 02/04/2024</label>
<span class="lblTotalRegisteredCustomer">4</span></div>`, i)
	}
	fmt.Fprintf(&b, `</article><div class="widget-footer">%d records</div></body></html>`, n)
	return b.String()
}

type harness struct {
	jobs      *memstore.JobStore
	listings  *memstore.ListingStore
	users     *memstore.UserStore
	page      *browsertest.Page
	browser   *browsertest.Browser
	publisher *memory.Publisher
	processor *Processor
}

func newHarness(t *testing.T, cfg Config, cipher *credentials.Cipher) *harness {
	t.Helper()
	h := &harness{
		jobs:      memstore.NewJobStore(),
		listings:  memstore.NewListingStore(),
		users:     memstore.NewUserStore(),
		page:      &browsertest.Page{Pages: []string{resultsPage(10)}},
		publisher: memory.New(),
	}
	h.browser = &browsertest.Browser{Page: h.page}
	clock := &fixedClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	if cfg.NotifyTopic == "" {
		cfg.NotifyTopic = "scrape-outcomes"
	}
	h.processor = New(Deps{
		Jobs:        h.jobs,
		Listings:    h.listings,
		Credentials: credentials.NewResolver(h.users, cipher),
		Browser:     h.browser,
		Extractor:   extract.NewEngine(h.jobs, h.users, nil, extract.Options{}, zap.NewNop()),
		Normalizer:  normalize.New(clock, time.UTC),
		IDs:         uuid.New(),
		Clock:       clock,
		Publisher:   h.publisher,
	}, cfg, zap.NewNop())

	require.NoError(t, h.users.PutPlain("user-1", scrape.Credentials{Username: "alice", Password: "pw"}))
	require.NoError(t, h.jobs.CreateJob(context.Background(), scrape.Job{
		ID: "job-1", UserID: "user-1", URL: jobURL, CreatedAt: clock.Now(),
	}))
	return h
}

func message(t *testing.T, id int64, payload scrape.QueuePayload) queue.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Message{ID: id, ReadCount: 1, Body: body}
}

func jobMessage(t *testing.T) queue.Message {
	return message(t, 1, scrape.QueuePayload{JobID: "job-1", UserID: "user-1", URL: jobURL})
}

func (h *harness) job(t *testing.T) scrape.Job {
	t.Helper()
	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	return job
}

func TestHandleCompletesJob(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	res, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)

	job := h.job(t)
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.True(t, job.CompletedAt.After(*job.StartedAt))
	require.Empty(t, job.Error)
	require.Equal(t, 10, *job.TotalRecords)

	stored := h.listings.ListByJob("job-1")
	require.Len(t, stored, 10)
	first := stored[0]
	require.True(t, uuid.Valid(first.ID))
	require.Equal(t, "RM", first.Currency)
	require.Equal(t, "250000", first.Price.String())
	require.Equal(t, "300000", first.MarketValue.String())
	require.Equal(t, scrape.ListingStatusReserved, first.Status)
	require.Equal(t, scrape.TenureLeasehold, first.Tenure)
	require.Equal(t, 4, first.RegisteredInvestor)
	require.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), first.AuctionDate)

	require.Equal(t, 1, h.page.CloseCount())
	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	var outcome scrape.Outcome
	require.NoError(t, msgs[0].Decode(&outcome))
	require.Equal(t, scrape.Outcome{
		JobID: "job-1", Status: scrape.JobStatusCompleted, TotalRecords: 10, Inserted: 10,
	}, outcome)
}

func TestHandleSkipsAlreadyHandledJobs(t *testing.T) {
	for _, status := range []scrape.JobStatus{
		scrape.JobStatusProcessing,
		scrape.JobStatusCompleted,
		scrape.JobStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, Config{}, nil)
			job := h.job(t)
			job.Status = status
			h.jobs.Put(job)

			res, err := h.processor.Handle(context.Background(), jobMessage(t))
			require.NoError(t, err)
			require.Equal(t, queue.Ack, res)
			require.Equal(t, status, h.job(t).Status)
			require.Zero(t, h.browser.Acquired())
		})
	}
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	for i := 0; i < 3; i++ {
		res, err := h.processor.Handle(context.Background(), jobMessage(t))
		require.NoError(t, err)
		require.Equal(t, queue.Ack, res)
	}
	require.Equal(t, 1, h.browser.Acquired())
	require.Len(t, h.listings.ListByJob("job-1"), 10)
	require.Len(t, h.publisher.Messages(), 1)
}

func TestHandleAllInsertsFail(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.listings.FailWhen(func(scrape.Listing) error { return errors.New("constraint violation") })

	res, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)

	job := h.job(t)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Equal(t, "All 10 listing inserts failed", job.Error)
}

func TestHandlePartialInsertFailure(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.listings.FailWhen(func(l scrape.Listing) error {
		if strings.HasPrefix(l.Address, "Lot 3,") || strings.HasPrefix(l.Address, "Lot 7,") {
			return errors.New("bad row")
		}
		return nil
	})

	_, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)

	job := h.job(t)
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.Equal(t, "2 of 10 listing inserts failed", job.Error)
	require.Len(t, h.listings.ListByJob("job-1"), 8)
}

func TestHandleZeroListingsCompletes(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.page.Pages = []string{resultsPage(0)}

	_, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, h.job(t).Status)
}

func TestHandleTimesOut(t *testing.T) {
	h := newHarness(t, Config{JobTimeout: 50 * time.Millisecond}, nil)
	h.page.OnWait = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	res, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)

	job := h.job(t)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Equal(t, "job timed out after 50ms", job.Error)
	require.Equal(t, 1, h.page.CloseCount())
}

type blockingResolver struct{}

func (blockingResolver) Resolve(ctx context.Context, _ string) (scrape.Credentials, error) {
	<-ctx.Done()
	return scrape.Credentials{}, ctx.Err()
}

func TestHandleDeadlineCoversCredentialLookup(t *testing.T) {
	h := newHarness(t, Config{JobTimeout: 50 * time.Millisecond}, nil)
	h.processor.deps.Credentials = blockingResolver{}

	res, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)

	job := h.job(t)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Equal(t, "job timed out after 50ms", job.Error)
	require.Zero(t, h.browser.Acquired())
}

func TestHandleDecryptionFailureSkipsBrowser(t *testing.T) {
	key := make([]byte, 32)
	cipher, err := credentials.NewCipher(key)
	require.NoError(t, err)
	h := newHarness(t, Config{}, cipher)

	env, err := cipher.Encrypt(scrape.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	env.Data = "AAAA" + env.Data[4:]
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	h.users.Put("user-1", scrape.StoredCredentials{Raw: raw, Encrypted: true})

	_, err = h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)

	job := h.job(t)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "failed to decrypt credentials")
	require.Zero(t, h.browser.Acquired())
}

func TestHandleMissingCredentials(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	require.NoError(t, h.users.PutPlain("user-1", scrape.Credentials{Username: "alice"}))

	_, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Contains(t, h.job(t).Error, scrape.ErrMissingCredentials.Error())
	require.Zero(t, h.browser.Acquired())
}

func TestHandleBrowserLaunchFailure(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.browser.Err = errors.New("chrome not found")

	_, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, "launch browser: chrome not found", h.job(t).Error)
}

func TestHandleMalformedMessages(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	res, err := h.processor.Handle(context.Background(), queue.Message{ID: 9, Body: []byte("{not json")})
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)

	res, err = h.processor.Handle(context.Background(), message(t, 10, scrape.QueuePayload{UserID: "user-1"}))
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)

	res, err = h.processor.Handle(context.Background(), message(t, 11, scrape.QueuePayload{JobID: "missing"}))
	require.NoError(t, err)
	require.Equal(t, queue.Ack, res)
	require.Zero(t, h.browser.Acquired())
}

type failingJobStore struct {
	*memstore.JobStore
	getErr      error
	completeErr error
}

func (s *failingJobStore) GetJob(ctx context.Context, id string) (scrape.Job, error) {
	if s.getErr != nil {
		return scrape.Job{}, s.getErr
	}
	return s.JobStore.GetJob(ctx, id)
}

func (s *failingJobStore) CompleteJob(ctx context.Context, id string, at time.Time, note string) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.JobStore.CompleteJob(ctx, id, at, note)
}

func TestHandleRetriesWhenStateCannotBeRecorded(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		h.processor.deps.Jobs = &failingJobStore{JobStore: h.jobs, getErr: errors.New("connection reset")}

		res, err := h.processor.Handle(context.Background(), jobMessage(t))
		require.Error(t, err)
		require.Equal(t, queue.Retry, res)
	})
	t.Run("final status", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		h.processor.deps.Jobs = &failingJobStore{JobStore: h.jobs, completeErr: errors.New("connection reset")}

		res, err := h.processor.Handle(context.Background(), jobMessage(t))
		require.ErrorContains(t, err, "record job job-1 completion")
		require.Equal(t, queue.Retry, res)
		require.Equal(t, scrape.JobStatusProcessing, h.job(t).Status)
	})
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return l.err
}

func TestHandleWaitsForHostLimiter(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	lim := &recordingLimiter{}
	h.processor.deps.Limiter = lim

	_, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, h.job(t).Status)
	require.Equal(t, []string{jobURL}, lim.urls)
}

func TestHandleHostLimiterFailure(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.processor.deps.Limiter = &recordingLimiter{err: errors.New("rate limit wait for auction.example.com: context canceled")}

	_, err := h.processor.Handle(context.Background(), jobMessage(t))
	require.NoError(t, err)
	job := h.job(t)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "rate limit wait")
	require.Zero(t, h.browser.Acquired())
}
