// Package normalize converts raw listing text into typed values. Every function
// degrades to a documented default instead of returning an error.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// DefaultCurrency is used when a price string does not carry a currency code.
const DefaultCurrency = "RM"

// LandAreaUnit is the unit every scraped land area is expressed in.
const LandAreaUnit = "sqft"

var (
	pricePattern  = regexp.MustCompile(`^([A-Z]+)\s*([\d,]+\.?\d*)$`)
	numberPattern = regexp.MustCompile(`[\d,]+\.?\d*`)
)

// Price is a currency code plus amount.
type Price struct {
	Currency string
	Amount   decimal.Decimal
}

// ParsePrice parses strings such as "RM 1,234,567.89".
func ParsePrice(text string) Price {
	m := pricePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Price{Currency: DefaultCurrency, Amount: decimal.Zero}
	}
	return Price{Currency: m[1], Amount: parseAmount(m[2])}
}

func parseAmount(s string) decimal.Decimal {
	s = strings.TrimSuffix(strings.ReplaceAll(s, ",", ""), ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseDate parses dd/mm/yyyy at midnight in loc. Any missing or non-numeric
// component yields now.
func ParseDate(text string, now time.Time, loc *time.Location) time.Time {
	parts := strings.Split(strings.TrimSpace(text), "/")
	if len(parts) < 3 {
		return now
	}
	var nums [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return now
		}
		nums[i] = n
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(nums[2], time.Month(nums[1]), nums[0], 0, 0, 0, 0, loc)
}

// MapStatus maps card status text to a listing status.
func MapStatus(text string) scrape.ListingStatus {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "reserved":
		return scrape.ListingStatusReserved
	case "called off":
		return scrape.ListingStatusCalledOff
	default:
		return scrape.ListingStatusActive
	}
}

// MapTenure maps tenure text to a tenure value.
func MapTenure(text string) scrape.Tenure {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "freehold":
		return scrape.TenureFreehold
	case "leasehold":
		return scrape.TenureLeasehold
	default:
		return scrape.TenureNone
	}
}

// ParseLandArea takes the first number in text, e.g. "1,200 sq.ft" -> 1200.
func ParseLandArea(text string) decimal.Decimal {
	m := numberPattern.FindString(text)
	if m == "" {
		return decimal.Zero
	}
	return parseAmount(m)
}

// ParseInvestors parses a registered investor count, defaulting to 0.
func ParseInvestors(text string) int {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	end := 0
	for end < len(cleaned) && cleaned[end] >= '0' && cleaned[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(cleaned[:end])
	if err != nil {
		return 0
	}
	return n
}

// Normalizer turns raw listings into typed listings for one job.
type Normalizer struct {
	clock    scrape.Clock
	location *time.Location
}

// New returns a Normalizer that interprets dates in loc.
func New(clock scrape.Clock, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{clock: clock, location: loc}
}

// Listing normalizes raw for the given job. The caller assigns the ID.
func (n *Normalizer) Listing(jobID string, raw scrape.RawListing) scrape.Listing {
	now := n.clock.Now()
	price := ParsePrice(raw.Price)
	market := ParsePrice(raw.MarketValue)
	return scrape.Listing{
		ScrapeJobID:        jobID,
		Address:            raw.Address,
		HomeType:           raw.HomeType,
		Currency:           price.Currency,
		Price:              price.Amount,
		MarketValue:        market.Amount,
		AuctionDate:        ParseDate(raw.AuctionDate, now, n.location),
		Tenure:             MapTenure(raw.Tenure),
		LandArea:           ParseLandArea(raw.LandArea),
		LandAreaUnit:       LandAreaUnit,
		RegisteredInvestor: ParseInvestors(raw.RegisteredInvestor),
		EntryCreated:       ParseDate(raw.CreatedDate, now, n.location),
		Status:             MapStatus(raw.Status),
	}
}
