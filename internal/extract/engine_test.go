package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/browser/browsertest"
	"github.com/JakeFAU/auction-ingest/internal/hash/sha256"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
	"github.com/JakeFAU/auction-ingest/internal/storage/memory"
)

const (
	resultsURL = "https://auction.example.com/listing.html?state=kl"
	loginURL   = "https://auction.example.com/login.html?return=listing"
)

type harness struct {
	jobs   *memory.JobStore
	users  *memory.UserStore
	engine *Engine
	job    scrape.Job
}

func newHarness(t *testing.T, opts Options, snapshots *Snapshotter) *harness {
	t.Helper()
	jobs := memory.NewJobStore()
	users := memory.NewUserStore()
	job := scrape.Job{ID: "job-1", UserID: "user-1", URL: resultsURL, Status: scrape.JobStatusProcessing}
	jobs.Put(job)
	require.NoError(t, users.PutPlain("user-1", scrape.Credentials{Username: "alice", Password: "pw"}))
	return &harness{
		jobs:   jobs,
		users:  users,
		engine: NewEngine(jobs, users, snapshots, opts, zap.NewNop()),
		job:    job,
	}
}

func (h *harness) storedTotal(t *testing.T) int {
	t.Helper()
	job, err := h.jobs.GetJob(context.Background(), h.job.ID)
	require.NoError(t, err)
	require.NotNil(t, job.TotalRecords)
	return *job.TotalRecords
}

var creds = scrape.Credentials{Username: "alice", Password: "pw"}

func paginatingPage(pages []string) *browsertest.Page {
	return &browsertest.Page{
		Pages: pages,
		OnClick: func(p *browsertest.Page, selector string) error {
			if selector == nextLinkXPath {
				p.Advance()
			}
			return nil
		},
	}
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestExtractWalksAllPages(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	page := paginatingPage(paginate(25, 10, 25))

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)
	require.Len(t, out.Listings, 25)
	require.Equal(t, 3, out.Pages)
	require.Equal(t, 25, out.TotalRecords)
	require.Equal(t, 25, h.storedTotal(t))
	require.Equal(t, 2, countCalls(page.Calls(), "click:"+nextLinkXPath))
	require.Equal(t, "navigate:"+resultsURL, page.Calls()[0])
	require.NotContains(t, page.Calls(), "type:"+usernameSelector)
}

func TestExtractStopsOnceTotalCollected(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	page := paginatingPage(paginate(30, 10, 10))

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)
	require.Len(t, out.Listings, 10)
	require.Equal(t, 1, out.Pages)
	require.Zero(t, countCalls(page.Calls(), "click:"+nextLinkXPath))
}

func TestExtractStopsWhenLaterPageReachesTotal(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	page := paginatingPage(paginate(12, 4, 6))

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)
	require.Len(t, out.Listings, 8)
	require.Equal(t, 2, out.Pages)
	require.Equal(t, 1, countCalls(page.Calls(), "click:"+nextLinkXPath))
}

func TestExtractZeroTotalSinglePage(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	cards := []cardFixture{sampleCard(1), sampleCard(2), sampleCard(3)}
	page := paginatingPage([]string{renderPage(cards, 0, false)})

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)
	require.Len(t, out.Listings, 3)
	require.Equal(t, 1, out.Pages)
	require.Zero(t, out.TotalRecords)
	require.Zero(t, h.storedTotal(t))
}

func TestExtractLogsIn(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	page := paginatingPage(paginate(2, 10, 2))
	page.Landing = loginURL
	page.Cookies = map[string]string{tokenCookie: "abc"}
	page.OnClick = func(p *browsertest.Page, selector string) error {
		if selector == submitSelector {
			p.SetURL(resultsURL)
		}
		return nil
	}

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)
	require.Len(t, out.Listings, 2)
	require.Equal(t, scrape.CredsStatusWorking, h.users.CredsStatus("user-1"))

	calls := page.Calls()
	idx := func(call string) int {
		for i, c := range calls {
			if c == call {
				return i
			}
		}
		t.Fatalf("call %q not recorded in %v", call, calls)
		return -1
	}
	require.Less(t, idx("type:"+usernameSelector), idx("type:"+passwordSelector))
	require.Less(t, idx("type:"+passwordSelector), idx("click:"+submitSelector))
	require.Less(t, idx("click:"+submitSelector), idx("wait-url"))
}

func TestExtractLoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		cookies map[string]string
		leaves  bool
	}{
		{name: "still on login page", leaves: false},
		{name: "no session token", leaves: true, cookies: map[string]string{"other": "x"}},
		{name: "empty session token", leaves: true, cookies: map[string]string{tokenCookie: ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{}, nil)
			page := paginatingPage(paginate(2, 10, 2))
			page.Landing = loginURL
			page.Cookies = tc.cookies
			page.OnClick = func(p *browsertest.Page, selector string) error {
				if selector == submitSelector && tc.leaves {
					p.SetURL(resultsURL)
				}
				return nil
			}

			_, err := h.engine.Extract(context.Background(), page, h.job, creds)
			var authErr *scrape.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			require.True(t, strings.HasPrefix(err.Error(), "login failed"))
			require.Equal(t, scrape.CredsStatusFailed, h.users.CredsStatus("user-1"))
		})
	}
}

func TestExtractResultsTimeout(t *testing.T) {
	h := newHarness(t, Options{ResultsTimeout: 2 * time.Second}, nil)
	page := paginatingPage(paginate(2, 10, 2))
	page.OnWait = func(context.Context, string) error { return scrape.ErrWaitTimeout }

	_, err := h.engine.Extract(context.Background(), page, h.job, creds)
	var timeoutErr *scrape.ExtractionTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "results footer", timeoutErr.Step)
	require.Equal(t, 2*time.Second, timeoutErr.Timeout)
	require.ErrorIs(t, err, scrape.ErrWaitTimeout)
}

func TestExtractPageChangeTimeout(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	page := paginatingPage(paginate(20, 10, 20))
	page.OnWait = func(_ context.Context, predicate string) error {
		if predicate == resultsReady {
			return nil
		}
		return scrape.ErrWaitTimeout
	}

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	var timeoutErr *scrape.ExtractionTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "next page", timeoutErr.Step)
	require.Len(t, out.Listings, 10)
}

func TestExtractCanceledContext(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	page := paginatingPage(paginate(20, 10, 20))
	ctx, cancel := context.WithCancel(context.Background())
	page.OnWait = func(context.Context, string) error {
		cancel()
		return context.Canceled
	}

	_, err := h.engine.Extract(ctx, page, h.job, creds)
	require.ErrorIs(t, err, context.Canceled)
	var timeoutErr *scrape.ExtractionTimeoutError
	require.False(t, errors.As(err, &timeoutErr))
}

func TestExtractMismatchPolicies(t *testing.T) {
	t.Run("reconcile", func(t *testing.T) {
		h := newHarness(t, Options{}, nil)
		page := paginatingPage(paginate(10, 10, 12))

		out, err := h.engine.Extract(context.Background(), page, h.job, creds)
		require.NoError(t, err)
		require.Len(t, out.Listings, 10)
		require.Equal(t, 10, out.TotalRecords)
		require.Equal(t, 10, h.storedTotal(t))
	})
	t.Run("fail", func(t *testing.T) {
		h := newHarness(t, Options{MismatchPolicy: MismatchFail}, nil)
		page := paginatingPage(paginate(10, 10, 12))

		_, err := h.engine.Extract(context.Background(), page, h.job, creds)
		var mismatch *scrape.RecordCountMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, 12, mismatch.Expected)
		require.Equal(t, 10, mismatch.Actual)
		require.Equal(t, 12, h.storedTotal(t))
	})
}

func TestExtractMaxPages(t *testing.T) {
	h := newHarness(t, Options{MaxPages: 2}, nil)
	page := paginatingPage(paginate(50, 10, 0))

	out, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)
	require.Equal(t, 2, out.Pages)
	require.Len(t, out.Listings, 20)
}

func TestExtractStoresSnapshots(t *testing.T) {
	blobs := memory.NewBlobStore()
	h := newHarness(t, Options{}, NewSnapshotter(blobs, sha256.New(), "/snapshots/"))
	page := paginatingPage(paginate(15, 10, 15))

	_, err := h.engine.Extract(context.Background(), page, h.job, creds)
	require.NoError(t, err)

	paths := blobs.Paths()
	require.Len(t, paths, 2)
	for _, p := range paths {
		require.True(t, strings.HasPrefix(p, "snapshots/job-1/page-00"), p)
		require.True(t, strings.HasSuffix(p, ".html"), p)
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{MismatchPolicy: "bogus"}.withDefaults()
	require.Equal(t, 15*time.Second, opts.LoginTimeout)
	require.Equal(t, 30*time.Second, opts.ResultsTimeout)
	require.Equal(t, 15*time.Second, opts.PageChangeTimeout)
	require.Equal(t, MismatchReconcile, opts.MismatchPolicy)
	require.Equal(t, 500, opts.MaxPages)
}
