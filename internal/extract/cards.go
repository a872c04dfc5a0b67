package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

const (
	cardSelector       = "article .col-xs-12.col-sm-6.col-md-4"
	addressSelector    = "td.three_row"
	footerSelector     = ".widget-footer"
	paginationLinks    = ".pagination a"
	defaultInvestorCnt = "0"
)

var (
	totalRecordsRe = regexp.MustCompile(`(?i)(\d+)\s*record`)
	marketValueRe  = regexp.MustCompile(`(?i)\(Market Value:\s*(RM\s*[\d,]+\.?\d*)\)`)
)

// ParseDocument parses rendered page HTML.
func ParseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

// ParseCards returns the raw fields of every listing card that has an address.
func ParseCards(doc *goquery.Document) []scrape.RawListing {
	var out []scrape.RawListing
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		raw := scrape.RawListing{
			Status:             textOf(card, ".lblStatus"),
			Address:            textOf(card, addressSelector),
			HomeType:           textOf(card, "td.grey-font"),
			Price:              textOf(card, ".market-price"),
			RegisteredInvestor: textOf(card, ".lblTotalRegisteredCustomer"),
		}
		if raw.Address == "" {
			return
		}
		if raw.RegisteredInvestor == "" {
			raw.RegisteredInvestor = defaultInvestorCnt
		}
		if inner, err := card.Html(); err == nil {
			if m := marketValueRe.FindStringSubmatch(inner); m != nil {
				raw.MarketValue = m[1]
			}
		}
		card.Find("label").Each(func(_ int, label *goquery.Selection) {
			text := label.Text()
			switch {
			case strings.Contains(text, "Auction Date"):
				raw.AuctionDate = labelValue(text)
			case strings.Contains(text, "Tenure"):
				raw.Tenure = labelValue(text)
			case strings.Contains(text, "Land Area"):
				raw.LandArea = labelValue(text)
			case strings.Contains(text, "Created Date"):
				raw.CreatedDate = labelValue(text)
			}
		})
		out = append(out, raw)
	})
	return out
}

// FooterTotal reads the advertised record count, or 0 when the footer has none.
func FooterTotal(doc *goquery.Document) int {
	m := totalRecordsRe.FindStringSubmatch(doc.Find(footerSelector).First().Text())
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// HasNext reports whether the pagination bar offers a "Next" link, in any case.
func HasNext(doc *goquery.Document) bool {
	found := false
	doc.Find(paginationLinks).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		found = strings.Contains(strings.ToLower(a.Text()), "next")
		return !found
	})
	return found
}

// FirstAddress is the address on the first card, used to detect a page turn.
func FirstAddress(doc *goquery.Document) string {
	return textOf(doc.Selection, cardSelector+" "+addressSelector)
}

func textOf(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// labelValue strips the "Name:" prefix from a label's text.
func labelValue(text string) string {
	if i := strings.Index(text, ":"); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(text)
}
