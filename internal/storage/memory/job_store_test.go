package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	job := scrape.Job{ID: "job-1", UserID: "user-1", URL: "https://auction.example", CreatedAt: now}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	require.NoError(t, store.MarkProcessing(ctx, "job-1", now))
	require.ErrorIs(t, store.MarkProcessing(ctx, "job-1", now), scrape.ErrJobStateConflict)
	require.NoError(t, store.SetTotalRecords(ctx, "job-1", 12))
	require.NoError(t, store.CompleteJob(ctx, "job-1", now.Add(time.Minute), ""))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 12, *got.TotalRecords)
	require.NotNil(t, got.CompletedAt)

	// Terminal jobs never move again.
	require.ErrorIs(t, store.FailJob(ctx, "job-1", now, "late"), scrape.ErrJobStateConflict)
	require.ErrorIs(t, store.CompleteJob(ctx, "job-1", now, ""), scrape.ErrJobStateConflict)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestJobStoreFailStuckJobs(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	now := time.Unix(1_700_000_000, 0).UTC()
	old := now.Add(-11 * time.Minute)
	recent := now.Add(-time.Minute)
	store.Put(scrape.Job{ID: "old", Status: scrape.JobStatusProcessing, StartedAt: &old})
	store.Put(scrape.Job{ID: "recent", Status: scrape.JobStatusProcessing, StartedAt: &recent})
	store.Put(scrape.Job{ID: "done", Status: scrape.JobStatusCompleted, StartedAt: &old})

	ids, err := store.FailStuckJobs(context.Background(), now.Add(-10*time.Minute), now, "stuck")
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, ids)

	got, err := store.GetJob(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.Equal(t, "stuck", got.Error)
}

func TestListingStoreUpsertConverges(t *testing.T) {
	t.Parallel()

	store := NewListingStore()
	ctx := context.Background()
	first := scrape.Listing{ID: "a", ScrapeJobID: "job-1", Address: "1 Jalan", HomeType: "Terrace"}
	require.NoError(t, store.UpsertListing(ctx, first))

	again := first
	again.ID = "b"
	again.HomeType = "Semi-D"
	require.NoError(t, store.UpsertListing(ctx, again))
	require.NoError(t, store.UpsertListing(ctx, scrape.Listing{ID: "c", ScrapeJobID: "job-2", Address: "1 Jalan"}))

	got := store.ListByJob("job-1")
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "Semi-D", got[0].HomeType)
	require.Len(t, store.ListByJob("job-2"), 1)
}

func TestUserStore(t *testing.T) {
	t.Parallel()

	store := NewUserStore()
	require.NoError(t, store.PutPlain("user-1", scrape.Credentials{Username: "u", Password: "p"}))
	require.Equal(t, scrape.CredsStatusUnknown, store.CredsStatus("user-1"))

	stored, err := store.LoadCredentials(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, stored.Encrypted)
	require.JSONEq(t, `{"username":"u","password":"p"}`, string(stored.Raw))

	require.NoError(t, store.SetCredsStatus(context.Background(), "user-1", scrape.CredsStatusWorking))
	require.Equal(t, scrape.CredsStatusWorking, store.CredsStatus("user-1"))

	_, err = store.LoadCredentials(context.Background(), "ghost")
	require.ErrorIs(t, err, scrape.ErrUserNotFound)
}
