package scrape

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrWaitTimeout is returned by Page waits whose condition never held.
var ErrWaitTimeout = errors.New("wait condition not satisfied before timeout")

// JobStore persists scrape job lifecycle state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error
	SetTotalRecords(ctx context.Context, jobID string, total int) error
	CompleteJob(ctx context.Context, jobID string, completedAt time.Time, note string) error
	FailJob(ctx context.Context, jobID string, completedAt time.Time, reason string) error
	FailStuckJobs(ctx context.Context, startedBefore, now time.Time, reason string) ([]string, error)
}

// ListingStore upserts normalized listings keyed by (scrape job, address).
type ListingStore interface {
	UpsertListing(ctx context.Context, listing Listing) error
}

// CredentialSource resolves plaintext credentials for a user.
type CredentialSource interface {
	Resolve(ctx context.Context, userID string) (Credentials, error)
}

// CredsStatusWriter records the credential health signal.
type CredsStatusWriter interface {
	SetCredsStatus(ctx context.Context, userID string, status CredsStatus) error
}

// Page is the browser automation boundary the extraction engine drives.
// Selectors starting with "/" are XPath expressions, everything else is CSS.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// Type enters text into the field with human pacing.
	Type(ctx context.Context, selector, text string) error
	// Click clicks the first matching element after a human pre-delay.
	Click(ctx context.Context, selector string) error
	Pause(ctx context.Context, min, max time.Duration) error
	// WaitURLLeaves blocks until the current URL no longer contains pattern.
	WaitURLLeaves(ctx context.Context, pattern string, timeout time.Duration) error
	// WaitUntil blocks until the JavaScript expression evaluates truthy.
	WaitUntil(ctx context.Context, predicate string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Cookie(ctx context.Context, name string) (string, bool, error)
}

// Session is a Page owned by a single job.
type Session interface {
	Page
	Close() error
}

// Browser hands out fresh stealth sessions.
type Browser interface {
	Acquire(ctx context.Context) (Session, error)
}

// BlobStore archives raw artifacts such as page snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces job outcomes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// CredentialStore reads stored credentials for a user.
type CredentialStore interface {
	LoadCredentials(ctx context.Context, userID string) (StoredCredentials, error)
}
