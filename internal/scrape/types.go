package scrape

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in scrape_jobs.status.
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job mirrors a scrape_jobs row.
type Job struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	URL          string     `json:"url"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	TotalRecords *int       `json:"total_records,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// QueuePayload is the JSON body carried by each scrape queue message.
type QueuePayload struct {
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`
	URL    string `json:"url"`
}

// Credentials are the decrypted login details for the target site.
type Credentials struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	TargetURL string `json:"targetUrl,omitempty"`
}

// Validate ensures both username and password are present.
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// StoredCredentials is the users.creds column as persisted. Raw holds either an
// encrypted envelope or legacy plain JSON credentials.
type StoredCredentials struct {
	Raw       json.RawMessage
	Encrypted bool
}

// CredsStatus is the health signal shown next to stored credentials.
type CredsStatus string

// Credential health values persisted in users.creds_status.
const (
	CredsStatusUnknown CredsStatus = "unknown"
	CredsStatusWorking CredsStatus = "working"
	CredsStatusFailed  CredsStatus = "failed"
)

// RawListing holds the verbatim text scraped from one listing card.
type RawListing struct {
	Status             string `json:"status"`
	Address            string `json:"address"`
	HomeType           string `json:"homeType"`
	Price              string `json:"priceText"`
	MarketValue        string `json:"marketValueText"`
	AuctionDate        string `json:"auctionDate"`
	Tenure             string `json:"tenure"`
	LandArea           string `json:"landArea"`
	RegisteredInvestor string `json:"registeredInvestor"`
	CreatedDate        string `json:"createdDate"`
}

// Tenure is the land tenure of a listing.
type Tenure string

// Tenure values matching the tenure enum.
const (
	TenureNone      Tenure = "NONE"
	TenureFreehold  Tenure = "FREEHOLD"
	TenureLeasehold Tenure = "LEASEHOLD"
)

// ListingStatus is the auction state of a listing.
type ListingStatus string

// Listing status values matching the listing_status enum.
const (
	ListingStatusActive    ListingStatus = "ACTIVE"
	ListingStatusReserved  ListingStatus = "RESERVED"
	ListingStatusCalledOff ListingStatus = "CALLED_OFF"
)

// Listing is a normalized listings row.
type Listing struct {
	ID                 string          `json:"id"`
	ScrapeJobID        string          `json:"scrape_job_id"`
	Address            string          `json:"address"`
	HomeType           string          `json:"home_type"`
	Currency           string          `json:"currency"`
	Price              decimal.Decimal `json:"price"`
	MarketValue        decimal.Decimal `json:"market_value"`
	AuctionDate        time.Time       `json:"auction_date"`
	Tenure             Tenure          `json:"tenure"`
	LandArea           decimal.Decimal `json:"land_area"`
	LandAreaUnit       string          `json:"land_area_unit"`
	RegisteredInvestor int             `json:"registered_investor"`
	EntryCreated       time.Time       `json:"entry_created"`
	Status             ListingStatus   `json:"status"`
}

// Extraction is what the extraction engine hands back for one job.
type Extraction struct {
	Listings     []RawListing
	TotalRecords int
	Pages        int
}

// Outcome summarizes how a job's listings were persisted.
type Outcome struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	TotalRecords int       `json:"totalRecords"`
	Inserted     int       `json:"inserted"`
	Failed       int       `json:"failed"`
	Note         string    `json:"note,omitempty"`
}
