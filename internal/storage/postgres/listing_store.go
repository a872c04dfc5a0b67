package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// ListingStore upserts listings keyed by (scrape_job_id, address).
type ListingStore struct {
	db DB
}

// NewListingStore builds a ListingStore.
func NewListingStore(db DB) *ListingStore {
	return &ListingStore{db: db}
}

const upsertListingSQL = `
INSERT INTO listings (
	id,
	address,
	home_type,
	currency,
	price,
	market_value,
	auction_date,
	tenure,
	land_area,
	land_area_unit,
	registered_investor,
	entry_created,
	status,
	scrape_job_id,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now()
)
ON CONFLICT (scrape_job_id, address) DO UPDATE SET
	home_type = EXCLUDED.home_type,
	currency = EXCLUDED.currency,
	price = EXCLUDED.price,
	market_value = EXCLUDED.market_value,
	auction_date = EXCLUDED.auction_date,
	tenure = EXCLUDED.tenure,
	land_area = EXCLUDED.land_area,
	land_area_unit = EXCLUDED.land_area_unit,
	registered_investor = EXCLUDED.registered_investor,
	entry_created = EXCLUDED.entry_created,
	status = EXCLUDED.status,
	updated_at = now()`

// UpsertListing inserts l or updates the existing row for its job and address.
func (s *ListingStore) UpsertListing(ctx context.Context, l scrape.Listing) error {
	if l.ID == "" {
		return fmt.Errorf("listing id is required")
	}
	if l.ScrapeJobID == "" || l.Address == "" {
		return fmt.Errorf("listing scrape job id and address are required")
	}
	args := []any{
		l.ID,
		l.Address,
		l.HomeType,
		l.Currency,
		l.Price,
		l.MarketValue,
		l.AuctionDate,
		string(l.Tenure),
		l.LandArea,
		l.LandAreaUnit,
		l.RegisteredInvestor,
		l.EntryCreated,
		string(l.Status),
		l.ScrapeJobID,
	}
	if _, err := s.db.Exec(ctx, upsertListingSQL, args...); err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}
