package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

type listingKey struct {
	jobID   string
	address string
}

// ListingStore keeps listings unique per (job, address).
type ListingStore struct {
	mu       sync.RWMutex
	listings map[listingKey]scrape.Listing
	order    []listingKey
	failOn   func(scrape.Listing) error
}

// NewListingStore constructs a ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[listingKey]scrape.Listing)}
}

// FailWhen makes UpsertListing return fn's error when it is non-nil.
func (s *ListingStore) FailWhen(fn func(scrape.Listing) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

// UpsertListing inserts or replaces the listing for its job and address. The
// first insert's ID is kept on update.
func (s *ListingStore) UpsertListing(_ context.Context, l scrape.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil {
		if err := s.failOn(l); err != nil {
			return err
		}
	}
	if l.ScrapeJobID == "" || l.Address == "" {
		return fmt.Errorf("listing scrape job id and address are required")
	}
	key := listingKey{jobID: l.ScrapeJobID, address: l.Address}
	if existing, ok := s.listings[key]; ok {
		l.ID = existing.ID
	} else {
		s.order = append(s.order, key)
	}
	s.listings[key] = l
	return nil
}

// ListByJob returns a job's listings in first-insert order.
func (s *ListingStore) ListByJob(jobID string) []scrape.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Listing
	for _, key := range s.order {
		if key.jobID == jobID {
			out = append(out, s.listings[key])
		}
	}
	return out
}
